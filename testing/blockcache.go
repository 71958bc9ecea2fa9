package testing

import (
	"testing"

	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/common/blockcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CreateDefaultCache creates a sector cache over an in-memory device holding
// `totalSectors` sectors.
//
// Arguments:
//
//   - totalSectors: The number of sectors in the cache.
//   - backingData: Optional. A byte slice of exactly `totalSectors` sectors that
//     the device uses as its storage, so tests can check what was flushed. Pass
//     `nil` to get completely random data.
//   - t: The testing fixture.
func CreateDefaultCache(totalSectors uint, backingData []byte, t *testing.T) *blockcache.Cache {
	if backingData == nil {
		backingData = CreateRandomImage(totalSectors, t)
	}

	device, err := common.NewMemoryDeviceFromBytes(backingData)
	require.NoError(t, err, "backing data isn't a whole number of sectors")
	require.EqualValues(t, totalSectors, device.TotalSectors(), "backing data is the wrong size")

	cache := blockcache.WrapDevice(device, uint32(totalSectors))
	assert.EqualValues(t, totalSectors, cache.TotalSectors(), "wrong total sectors")
	return cache
}
