package common

import (
	"fmt"

	"github.com/ringos/ringfs"
)

// FaultyDevice wraps another BlockDevice and fails transfers touching chosen
// sectors. Tests use it to check how the engine behaves when a disk goes bad
// partway through an operation.
type FaultyDevice struct {
	ringfs.BlockDevice
	badReads    map[uint32]bool
	badWrites   map[uint32]bool
	writeBudget int
}

// NewFaultyDevice wraps `device`. Initially no transfers fail.
func NewFaultyDevice(device ringfs.BlockDevice) *FaultyDevice {
	return &FaultyDevice{
		BlockDevice: device,
		badReads:    make(map[uint32]bool),
		badWrites:   make(map[uint32]bool),
		writeBudget: -1,
	}
}

// FailReads makes every read covering any of the given sectors fail.
func (device *FaultyDevice) FailReads(sectors ...uint32) {
	for _, lba := range sectors {
		device.badReads[lba] = true
	}
}

// FailWrites makes every write covering any of the given sectors fail.
func (device *FaultyDevice) FailWrites(sectors ...uint32) {
	for _, lba := range sectors {
		device.badWrites[lba] = true
	}
}

// FailWritesAfter lets the next `n` writes through and fails every write after
// that. A negative value removes the limit.
func (device *FaultyDevice) FailWritesAfter(n int) {
	device.writeBudget = n
}

// Heal clears every injected fault.
func (device *FaultyDevice) Heal() {
	device.badReads = make(map[uint32]bool)
	device.badWrites = make(map[uint32]bool)
	device.writeBudget = -1
}

func touches(bad map[uint32]bool, lba uint32, count uint8) (uint32, bool) {
	for i := uint32(0); i < uint32(count); i++ {
		if bad[lba+i] {
			return lba + i, true
		}
	}
	return 0, false
}

func (device *FaultyDevice) ReadSectors(lba uint32, count uint8, out []byte) error {
	if bad, ok := touches(device.badReads, lba, count); ok {
		return ringfs.ErrIOFailed.WithMessage(fmt.Sprintf("injected read fault at sector %d", bad))
	}
	return device.BlockDevice.ReadSectors(lba, count, out)
}

func (device *FaultyDevice) WriteSectors(lba uint32, count uint8, data []byte) error {
	if bad, ok := touches(device.badWrites, lba, count); ok {
		return ringfs.ErrIOFailed.WithMessage(fmt.Sprintf("injected write fault at sector %d", bad))
	}
	if device.writeBudget == 0 {
		return ringfs.ErrIOFailed.WithMessage(fmt.Sprintf("injected write fault at sector %d", lba))
	}
	if device.writeBudget > 0 {
		device.writeBudget--
	}
	return device.BlockDevice.WriteSectors(lba, count, data)
}
