// Package common contains the block devices and allocation primitives shared
// by the FAT32 engine and the offline volume builder.
package common

import (
	"fmt"

	"github.com/ringos/ringfs"
)

// checkTransfer verifies that a transfer of `count` sectors starting at `lba`
// fits on a device with `totalSectors` sectors, and that the caller's buffer is
// exactly the right size for it.
func checkTransfer(lba uint32, count uint8, bufferSize int, totalSectors uint32) error {
	if count == 0 {
		return ringfs.ErrInvalidArgument.WithMessage("sector count must be at least 1")
	}

	if bufferSize != int(count)*ringfs.SectorSize {
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be exactly %d bytes for %d sectors, got %d",
				int(count)*ringfs.SectorSize,
				count,
				bufferSize,
			),
		)
	}

	if uint64(lba)+uint64(count) > uint64(totalSectors) {
		return ringfs.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"sectors [%d, %d) not in range [0, %d)",
				lba,
				uint64(lba)+uint64(count),
				totalSectors,
			),
		)
	}
	return nil
}
