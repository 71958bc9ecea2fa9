package common

import (
	"fmt"

	"github.com/ringos/ringfs"
)

// MemoryDevice is a BlockDevice backed by a fixed-size byte slice. The offline
// builder lays out images in one, and tests use it in place of a disk.
type MemoryDevice struct {
	data         []byte
	totalSectors uint32
}

// NewMemoryDevice creates a zero-filled device with `totalSectors` sectors.
func NewMemoryDevice(totalSectors uint32) *MemoryDevice {
	return &MemoryDevice{
		data:         make([]byte, int(totalSectors)*ringfs.SectorSize),
		totalSectors: totalSectors,
	}
}

// NewMemoryDeviceFromBytes wraps an existing image. The slice is not copied, so
// writes to the device are visible in `data` and vice versa. The length of
// `data` must be a nonzero multiple of the sector size.
func NewMemoryDeviceFromBytes(data []byte) (*MemoryDevice, error) {
	if len(data) == 0 || len(data)%ringfs.SectorSize != 0 {
		return nil, ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"image size must be a nonzero multiple of %d bytes, got %d",
				ringfs.SectorSize,
				len(data),
			),
		)
	}
	return &MemoryDevice{
		data:         data,
		totalSectors: uint32(len(data) / ringfs.SectorSize),
	}, nil
}

func (device *MemoryDevice) ReadSectors(lba uint32, count uint8, out []byte) error {
	err := checkTransfer(lba, count, len(out), device.totalSectors)
	if err != nil {
		return err
	}
	start := int(lba) * ringfs.SectorSize
	copy(out, device.data[start:start+len(out)])
	return nil
}

func (device *MemoryDevice) WriteSectors(lba uint32, count uint8, data []byte) error {
	err := checkTransfer(lba, count, len(data), device.totalSectors)
	if err != nil {
		return err
	}
	start := int(lba) * ringfs.SectorSize
	copy(device.data[start:start+len(data)], data)
	return nil
}

// TotalSectors returns the size of the device, in sectors.
func (device *MemoryDevice) TotalSectors() uint32 {
	return device.totalSectors
}

// Bytes returns the device's backing storage. It is not a copy.
func (device *MemoryDevice) Bytes() []byte {
	return device.data
}
