// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/ringos/ringfs"
)

type UnitID uint32

// Allocator tracks which units (clusters, for the builder) are in use. It never
// touches a device; callers are responsible for recording allocations on disk.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	TotalUnits       uint
}

// NewAllocator creates a new allocation bitmap with all bits cleared.
func NewAllocator(totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		TotalUnits:       totalUnits,
	}
}

func (alloc *Allocator) checkRange(start UnitID, count uint) error {
	if count == 0 || uint64(start)+uint64(count) > uint64(alloc.TotalUnits) {
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid unit range: [%d, %d) not in [0, %d)",
				start,
				uint64(start)+uint64(count),
				alloc.TotalUnits,
			),
		)
	}
	return nil
}

// IsAllocated reports whether `unit` is in use. Units past the end of the
// bitmap are reported as in use so they are never handed out.
func (alloc *Allocator) IsAllocated(unit UnitID) bool {
	if uint(unit) >= alloc.TotalUnits {
		return true
	}
	return alloc.AllocationBitmap.Get(int(unit))
}

// MarkAllocated reserves `count` units starting at `start`, whether or not they
// were free already.
func (alloc *Allocator) MarkAllocated(start UnitID, count uint) error {
	err := alloc.checkRange(start, count)
	if err != nil {
		return err
	}
	for i := uint(0); i < count; i++ {
		alloc.AllocationBitmap.Set(int(start)+int(i), true)
	}
	return nil
}

// FindContiguousValues returns the index of the beginning of a run of units
// of length `count` that all have the value `value`.
func (alloc *Allocator) FindContiguousValues(value bool, count uint) (UnitID, error) {
	if count == 0 {
		return 0, ringfs.ErrInvalidArgument.WithMessage("can't search for an empty run")
	}

	runSize := uint(0)
	runStart := UnitID(0)

	for i := uint(0); i < alloc.TotalUnits; i++ {
		if alloc.AllocationBitmap.Get(int(i)) != value {
			// Hit the opposite value, so this run is over. Start again.
			runSize = 0
			continue
		}

		if runSize == 0 {
			runStart = UnitID(i)
		}
		runSize++
		if runSize == count {
			return runStart, nil
		}
	}

	return 0, ringfs.ErrOutOfClusters.WithMessage(
		fmt.Sprintf("no run of %d units available", count))
}

// HasContiguousValuesAt reports whether the `count` units beginning at `start`
// all have the value `value`.
func (alloc *Allocator) HasContiguousValuesAt(start UnitID, value bool, count uint) bool {
	if uint64(start)+uint64(count) > uint64(alloc.TotalUnits) {
		return false
	}
	for i := uint(0); i < count; i++ {
		if alloc.AllocationBitmap.Get(int(start)+int(i)) != value {
			return false
		}
	}
	return true
}

// AllocateContiguous allocates a set of contiguous units in a first-fit manner.
func (alloc *Allocator) AllocateContiguous(count uint) (UnitID, error) {
	runStart, err := alloc.FindContiguousValues(false, count)
	if err != nil {
		return 0, err
	}

	for i := uint(0); i < count; i++ {
		alloc.AllocationBitmap.Set(int(runStart)+int(i), true)
	}
	return runStart, nil
}

// FreeContiguous frees a set of contiguous `count` units starting at index
// `start`. If any units in the range are already free, it fails immediately and
// the bitmap is *not* modified.
func (alloc *Allocator) FreeContiguous(start UnitID, count uint) error {
	err := alloc.checkRange(start, count)
	if err != nil {
		return err
	}
	if !alloc.HasContiguousValuesAt(start, true, count) {
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"tried to free already free units: there aren't %d allocated units starting at %d",
				count,
				start,
			),
		)
	}

	for i := uint(0); i < count; i++ {
		alloc.AllocationBitmap.Set(int(start)+int(i), false)
	}
	return nil
}

// CountFree returns the number of units not in use.
func (alloc *Allocator) CountFree() uint {
	free := uint(0)
	for i := uint(0); i < alloc.TotalUnits; i++ {
		if !alloc.AllocationBitmap.Get(int(i)) {
			free++
		}
	}
	return free
}
