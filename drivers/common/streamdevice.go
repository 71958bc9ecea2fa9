package common

import (
	"fmt"
	"io"

	"github.com/ringos/ringfs"
)

// StreamDevice is an abstraction layer around a stream to make it look like a
// sector device, e.g. an image file that can only be read from or written to in
// multiples of 512 bytes. Sector 0 is at the start of the stream.
type StreamDevice struct {
	totalSectors uint32
	stream       io.ReadWriteSeeker
}

// NewStreamDevice creates a device over the first `totalSectors` sectors of
// `stream`.
func NewStreamDevice(stream io.ReadWriteSeeker, totalSectors uint32) *StreamDevice {
	return &StreamDevice{
		totalSectors: totalSectors,
		stream:       stream,
	}
}

// OpenStreamDevice creates a device covering the whole of `stream`, rounded
// down to the nearest sector.
func OpenStreamDevice(stream io.ReadWriteSeeker) (*StreamDevice, error) {
	totalSectors, err := DetermineSectorCount(stream)
	if err != nil {
		return nil, err
	}
	return NewStreamDevice(stream, totalSectors), nil
}

// DetermineSectorCount gives the total number of sectors in a stream, rounded
// down to the nearest sector.
func DetermineSectorCount(stream io.Seeker) (uint32, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, ringfs.ErrIOFailed.Wrap(err)
	}

	sectors := offset / ringfs.SectorSize
	if sectors > int64(^uint32(0)) {
		return 0, ringfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("stream has %d sectors, more than a volume can address", sectors),
		)
	}
	return uint32(sectors), nil
}

// TotalSectors returns the size of the device, in sectors.
func (device *StreamDevice) TotalSectors() uint32 {
	return device.totalSectors
}

// seekToSector positions the stream pointer at the byte offset where the given
// sector starts.
func (device *StreamDevice) seekToSector(lba uint32) error {
	offset := int64(lba) * ringfs.SectorSize
	_, err := device.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return ringfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadSectors reads `count` whole sectors starting from `lba`. A short read is
// a failure and leaves `out` untouched.
func (device *StreamDevice) ReadSectors(lba uint32, count uint8, out []byte) error {
	err := checkTransfer(lba, count, len(out), device.totalSectors)
	if err != nil {
		return err
	}

	err = device.seekToSector(lba)
	if err != nil {
		return err
	}

	buffer := make([]byte, len(out))
	_, err = io.ReadFull(device.stream, buffer)
	if err != nil {
		return ringfs.ErrIOFailed.Wrap(
			fmt.Errorf("reading %d sectors at %d: %w", count, lba, err))
	}
	copy(out, buffer)
	return nil
}

// WriteSectors writes `count` whole sectors from `data` starting at `lba`.
func (device *StreamDevice) WriteSectors(lba uint32, count uint8, data []byte) error {
	err := checkTransfer(lba, count, len(data), device.totalSectors)
	if err != nil {
		return err
	}

	err = device.seekToSector(lba)
	if err != nil {
		return err
	}

	n, err := device.stream.Write(data)
	if err != nil {
		return ringfs.ErrIOFailed.Wrap(
			fmt.Errorf("writing %d sectors at %d: %w", count, lba, err))
	}
	if n != len(data) {
		return ringfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write at sector %d: %d of %d bytes", lba, n, len(data)))
	}
	return nil
}
