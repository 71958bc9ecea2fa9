// Package ringfs holds the contracts shared by the FAT32 engine, the offline
// volume builder and the tools built on top of them.
package ringfs

// SectorSize is the only sector size the engine supports. Every transfer to or
// from a BlockDevice is a whole number of sectors of this size.
const SectorSize = 512

// MaxSectorsPerTransfer is the largest sector count a single ReadSectors or
// WriteSectors call may request.
const MaxSectorsPerTransfer = 255

//go:generate mockgen -destination=drivers/common/mock_blockdevice.go -package=common github.com/ringos/ringfs BlockDevice

// BlockDevice is the interface for anything that stores a volume: a disk
// controller, an image file, or a plain byte slice.
//
// Implementations must treat a transfer as all-or-nothing. A non-nil error
// means no bytes were transferred; partial reads or writes are never reported
// as success.
type BlockDevice interface {
	// ReadSectors fills `out` with `count` sectors starting at sector `lba`.
	// `count` is in [1, 255] and `out` is exactly `count * SectorSize` bytes.
	ReadSectors(lba uint32, count uint8, out []byte) error

	// WriteSectors writes `count` sectors from `data` starting at sector `lba`.
	// The same restrictions as ReadSectors apply.
	WriteSectors(lba uint32, count uint8, data []byte) error
}

// SizedBlockDevice is implemented by devices that know their own capacity.
type SizedBlockDevice interface {
	BlockDevice

	// TotalSectors gives the number of addressable sectors on the device.
	TotalSectors() uint32
}

// Flusher is implemented by devices that buffer writes, such as the block
// cache. Callers must Flush before releasing the underlying storage.
type Flusher interface {
	Flush() error
}
