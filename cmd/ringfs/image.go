package main

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/common/blockcache"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/utilities/compression"
	log "github.com/sirupsen/logrus"
)

// openedImage is a mounted image file. Writable images go through a block
// cache that is flushed back to the file on Close.
type openedImage struct {
	volume *fat32.Volume
	file   *os.File
	cache  *blockcache.Cache
}

// openImage mounts the image at `imagePath`. Gzipped images are decompressed
// into memory and can only be opened read-only.
func openImage(imagePath string, writable bool) (*openedImage, error) {
	options := []ringfs.Option{ringfs.WithLogger(log.StandardLogger())}

	if !writable {
		file, err := os.Open(imagePath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		image, err := compression.ReadImage(file)
		if err != nil {
			return nil, err
		}
		device, err := common.NewMemoryDeviceFromBytes(image)
		if err != nil {
			return nil, err
		}
		volume, err := fat32.Mount(device, options...)
		if err != nil {
			return nil, err
		}
		return &openedImage{volume: volume}, nil
	}

	file, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 2)
	_, err = file.ReadAt(header, 0)
	if err == nil && compression.IsCompressed(header) {
		file.Close()
		return nil, ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%s is compressed; unpack it before modifying it", imagePath))
	}

	device, err := common.OpenStreamDevice(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	cache := blockcache.WrapDevice(device, device.TotalSectors())

	volume, err := fat32.Mount(cache, options...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &openedImage{volume: volume, file: file, cache: cache}, nil
}

// Close writes back any modified sectors and closes the image file.
func (image *openedImage) Close() error {
	if image.file == nil {
		return nil
	}

	if image.cache != nil {
		log.WithField("sectors", image.cache.DirtySectors()).Debug("flushing image")
	}
	flushErr := image.volume.Flush()
	closeErr := image.file.Close()
	return multierror.Append(flushErr, closeErr).ErrorOrNil()
}

// sessionAt returns a session positioned in the directory holding the last
// component of `imagePath`, along with that component.
func (image *openedImage) sessionAt(imagePath string) (*fat32.Session, string, error) {
	cleaned := path.Clean("/" + imagePath)
	dir, name := path.Split(cleaned)

	session := image.volume.NewSession()
	err := session.ChangeDirectoryPath(dir)
	if err != nil {
		return nil, "", err
	}
	return session, strings.TrimSuffix(name, "/"), nil
}

// directorySession returns a session positioned in the directory `imagePath`.
func (image *openedImage) directorySession(imagePath string) (*fat32.Session, error) {
	session := image.volume.NewSession()
	err := session.ChangeDirectoryPath(path.Clean("/" + imagePath))
	if err != nil {
		return nil, err
	}
	return session, nil
}
