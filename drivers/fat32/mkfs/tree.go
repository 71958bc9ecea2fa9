package mkfs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// AddTree copies the directory tree at `root` in `fs` into the root directory
// of the volume. Entries are added in name order. Hidden entries (names
// starting with a dot) and anything that isn't a regular file or directory
// are skipped. If two host names map to the same 8.3 name, the first one wins
// and the rest are skipped with a warning.
func (b *Builder) AddTree(fs afero.Fs, root string) error {
	info, err := fs.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ringfs.ErrNotADirectory.WithMessage(root)
	}
	return b.addDirectory(fs, root, b.Root())
}

func (b *Builder) addDirectory(fs afero.Fs, hostDir string, dir fat32.ClusterID) error {
	children, err := afero.ReadDir(fs, hostDir)
	if err != nil {
		return err
	}

	for _, child := range children {
		hostPath := filepath.Join(hostDir, child.Name())
		logger := b.log.WithFields(logrus.Fields{
			"path": hostPath,
			"name": fat32.NormalizeName(child.Name()).String(),
		})

		if strings.HasPrefix(child.Name(), ".") {
			logger.Debug("skipping hidden entry")
			continue
		}

		switch {
		case child.IsDir():
			cluster, err := b.CreateDirectory(dir, child.Name())
			if errors.Is(err, ringfs.ErrExists) {
				logger.Warn("8.3 name collides with an earlier entry, skipping directory")
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", hostPath, err)
			}
			logger.WithField("cluster", cluster).Debug("added directory")

			err = b.addDirectory(fs, hostPath, cluster)
			if err != nil {
				return err
			}

		case child.Mode().IsRegular():
			data, err := afero.ReadFile(fs, hostPath)
			if err != nil {
				return err
			}
			err = b.CreateFile(dir, child.Name(), data)
			if errors.Is(err, ringfs.ErrExists) {
				logger.Warn("8.3 name collides with an earlier entry, skipping file")
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", hostPath, err)
			}
			logger.WithField("size", len(data)).Debug("added file")

		default:
			logger.WithField("mode", child.Mode()).Debug("skipping special file")
		}
	}
	return nil
}
