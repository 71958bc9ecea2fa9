package mkfs

import (
	"fmt"
	"strings"
	"time"

	"github.com/ringos/ringfs"
	"github.com/sirupsen/logrus"
)

// Option configures a Builder.
type Option func(*Builder) error

// WithSize sets the image size in bytes. It's rounded down to a whole number
// of sectors.
func WithSize(sizeBytes uint64) Option {
	return func(b *Builder) error {
		sectors := sizeBytes / ringfs.SectorSize
		if sectors > 0xFFFFFFFF {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("%d bytes is larger than a FAT32 volume can be", sizeBytes))
		}
		b.totalSectors = uint32(sectors)
		return nil
	}
}

// WithSizeInMB sets the image size in MiB.
func WithSizeInMB(sizeMB int) Option {
	return func(b *Builder) error {
		if sizeMB <= 0 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("image size must be positive, got %d MiB", sizeMB))
		}
		return WithSize(uint64(sizeMB) * 1024 * 1024)(b)
	}
}

// WithSectorsPerCluster sets the cluster size. It must be a power of 2 no
// larger than 128.
func WithSectorsPerCluster(spc uint8) Option {
	return func(b *Builder) error {
		if spc == 0 || spc > 128 || spc&(spc-1) != 0 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("sectors per cluster must be a power of 2 in [1, 128], got %d", spc))
		}
		b.sectorsPerCluster = spc
		return nil
	}
}

// WithReservedSectors sets the size of the reserved region in front of the
// first FAT. The boot sector and FSInfo sector need at least 2; the backup
// boot sector is only written if there are at least 8.
func WithReservedSectors(count uint16) Option {
	return func(b *Builder) error {
		if count < 2 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("need at least 2 reserved sectors, got %d", count))
		}
		b.reservedSectors = count
		return nil
	}
}

// WithFATCount sets how many copies of the FAT the volume keeps.
func WithFATCount(count uint8) Option {
	return func(b *Builder) error {
		if count == 0 {
			return ringfs.ErrInvalidArgument.WithMessage("need at least one FAT")
		}
		b.numFATs = count
		return nil
	}
}

// WithVolumeLabel sets the volume label. It's uppercased and may be at most 11
// bytes long.
func WithVolumeLabel(label string) Option {
	return func(b *Builder) error {
		if len(label) > len(b.label) {
			return ringfs.ErrNameTooLong.WithMessage(
				fmt.Sprintf("volume label %q is longer than %d bytes", label, len(b.label)))
		}
		copy(b.label[:], strings.ToUpper(label)+strings.Repeat(" ", len(b.label)))
		return nil
	}
}

// WithOEMName sets the OEM name stored in the boot sector.
func WithOEMName(name string) Option {
	return func(b *Builder) error {
		if len(name) > len(b.oemName) {
			return ringfs.ErrNameTooLong.WithMessage(
				fmt.Sprintf("OEM name %q is longer than %d bytes", name, len(b.oemName)))
		}
		copy(b.oemName[:], name+strings.Repeat(" ", len(b.oemName)))
		return nil
	}
}

// WithVolumeID sets the volume serial number. By default it's derived from a
// random UUID.
func WithVolumeID(id uint32) Option {
	return func(b *Builder) error {
		b.volumeID = id
		return nil
	}
}

// WithTimestamp sets the time recorded on every entry the builder creates.
func WithTimestamp(t time.Time) Option {
	return func(b *Builder) error {
		b.timestamp = t
		return nil
	}
}

// WithLogger sets the logger for progress messages.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Builder) error {
		b.log = logger
		return nil
	}
}
