// Package blockcache provides a write-back sector cache that sits in front of
// any BlockDevice. Sectors are fetched from the device the first time they're
// touched and written back only when the cache is flushed.
//
// All sector indexes begin at 0.

package blockcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/ringos/ringfs"
)

// FetchSectorCallback is a pointer to a function that writes the contents of a
// single sector from the underlying storage into `buffer`. `buffer` is
// guaranteed to be the size of exactly one sector.
type FetchSectorCallback func(lba uint32, buffer []byte) error

// FlushSectorCallback is a pointer to a function that writes the contents of
// the given buffer to a sector in the backing storage. `buffer` is guaranteed
// to be the size of exactly one sector.
type FlushSectorCallback func(lba uint32, buffer []byte) error

// Cache implements ringfs.BlockDevice. Nothing written to it reaches the
// backing storage until Flush is called.
type Cache struct {
	loadedSectors bitmap.Bitmap
	dirtySectors  bitmap.Bitmap
	fetch         FetchSectorCallback
	flush         FlushSectorCallback
	totalSectors  uint32
	data          []byte
}

// New creates a new Cache over `totalSectors` sectors of storage reached
// through the given callbacks.
func New(
	totalSectors uint32,
	fetchCb FetchSectorCallback,
	flushCb FlushSectorCallback,
) *Cache {
	return &Cache{
		loadedSectors: bitmap.New(int(totalSectors)),
		dirtySectors:  bitmap.New(int(totalSectors)),
		data:          make([]byte, int(totalSectors)*ringfs.SectorSize),
		fetch:         fetchCb,
		flush:         flushCb,
		totalSectors:  totalSectors,
	}
}

// WrapDevice creates a cache in front of `device`.
func WrapDevice(device ringfs.BlockDevice, totalSectors uint32) *Cache {
	return New(
		totalSectors,
		func(lba uint32, buffer []byte) error {
			return device.ReadSectors(lba, 1, buffer)
		},
		func(lba uint32, buffer []byte) error {
			return device.WriteSectors(lba, 1, buffer)
		},
	)
}

// TotalSectors returns the size of the cache, in sectors.
func (cache *Cache) TotalSectors() uint32 {
	return cache.totalSectors
}

// checkBounds verifies that `count` sectors can be accessed in the cache
// starting from sector `start` with a buffer of `bufferSize` bytes. If not, it
// returns an error describing the exact conditions.
func (cache *Cache) checkBounds(start uint32, count uint8, bufferSize int) error {
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
	if uint64(start)+uint64(count) > uint64(cache.totalSectors) {
		return ringfs.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"can't access %d sectors from sector %d; range not in [0, %d)",
				count,
				start,
				cache.totalSectors,
			),
		)
	}
	return nil
}

func (cache *Cache) slice(start uint32, count uint32) []byte {
	startOffset := int(start) * ringfs.SectorSize
	return cache.data[startOffset : startOffset+int(count)*ringfs.SectorSize]
}

// loadSectorRange ensures that all sectors in the range [start, start + count)
// are present in the cache, and loads any missing ones from storage.
func (cache *Cache) loadSectorRange(start uint32, count uint32) error {
	for lba := start; lba < start+count; lba++ {
		// Dirty sectors are present by definition, so we only need to check
		// `loadedSectors`.
		if cache.loadedSectors.Get(int(lba)) {
			continue
		}

		// Load the sector from backing storage directly into the cache.
		err := cache.fetch(lba, cache.slice(lba, 1))
		if err != nil {
			return ringfs.CastToDriverError(err).WithMessage(
				fmt.Sprintf("failed to load sector %d from source", lba))
		}

		cache.loadedSectors.Set(int(lba), true)
		cache.dirtySectors.Set(int(lba), false)
	}
	return nil
}

// ReadSectors fills `out` with `count` sectors beginning at `lba`, loading
// any missing sectors first.
func (cache *Cache) ReadSectors(lba uint32, count uint8, out []byte) error {
	err := cache.checkBounds(lba, count, len(out))
	if err != nil {
		return err
	}

	err = cache.loadSectorRange(lba, uint32(count))
	if err != nil {
		return err
	}

	copy(out, cache.slice(lba, uint32(count)))
	return nil
}

// WriteSectors copies `count` sectors from `data` into the cache, beginning at
// `lba`. All modified sectors are marked as dirty.
func (cache *Cache) WriteSectors(lba uint32, count uint8, data []byte) error {
	err := cache.checkBounds(lba, count, len(data))
	if err != nil {
		return err
	}

	copy(cache.slice(lba, uint32(count)), data)

	for i := uint32(0); i < uint32(count); i++ {
		cache.loadedSectors.Set(int(lba+i), true)
		cache.dirtySectors.Set(int(lba+i), true)
	}
	return nil
}

// Flush writes out all dirty sectors (and only dirty sectors) to the
// underlying storage in ascending order, and marks them as clean. It stops at
// the first failure; sectors not yet written stay dirty.
func (cache *Cache) Flush() error {
	for lba := uint32(0); lba < cache.totalSectors; lba++ {
		if !cache.dirtySectors.Get(int(lba)) {
			continue
		}

		err := cache.flush(lba, cache.slice(lba, 1))
		if err != nil {
			return ringfs.CastToDriverError(err).WithMessage(
				fmt.Sprintf("failed to flush sector %d to storage", lba))
		}
		cache.dirtySectors.Set(int(lba), false)
	}
	return nil
}

// DirtySectors returns the number of sectors waiting to be flushed.
func (cache *Cache) DirtySectors() uint {
	dirty := uint(0)
	for lba := 0; lba < int(cache.totalSectors); lba++ {
		if cache.dirtySectors.Get(lba) {
			dirty++
		}
	}
	return dirty
}

// Discard drops every cached sector, including unflushed writes. The next
// access to any sector goes back to storage.
func (cache *Cache) Discard() {
	cache.loadedSectors = bitmap.New(int(cache.totalSectors))
	cache.dirtySectors = bitmap.New(int(cache.totalSectors))
}
