package fat32_test

import (
	"bytes"
	"testing"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/common/blockcache"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/drivers/fat32/mkfs"
	ringtest "github.com/ringos/ringfs/testing"
	"github.com/ringos/ringfs/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mount a compressed image through a stream device, modify it, and remount.
func TestMount__CompressedImageStream(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSizeInMB(2))
	require.NoError(t, builder.CreateFile(builder.Root(), "init.rc", []byte("start shell\n")))
	image, err := builder.Bytes()
	require.NoError(t, err)

	var compressed bytes.Buffer
	_, err = compression.CompressImage(bytes.NewReader(image), &compressed)
	require.NoError(t, err)

	totalSectors := uint(len(image) / ringfs.SectorSize)
	stream := ringtest.LoadDiskImage(t, compressed.Bytes(), totalSectors)
	device, err := common.OpenStreamDevice(stream)
	require.NoError(t, err)
	assert.EqualValues(t, totalSectors, device.TotalSectors())

	volume, err := fat32.Mount(device)
	require.NoError(t, err)
	session := volume.NewSession()
	data, err := session.ReadAll("INIT.RC")
	require.NoError(t, err)
	assert.Equal(t, "start shell\n", string(data))

	require.NoError(t, session.WriteFile("boot.log", []byte("ok\n")))

	remounted, err := fat32.Mount(device)
	require.NoError(t, err)
	data, err = remounted.NewSession().ReadAll("boot.log")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

func TestVolume__Flush(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSizeInMB(1))
	backing := ringtest.MountBuilder(t, builder)
	device := builder.Device()
	cache := blockcache.WrapDevice(device, device.TotalSectors())

	volume, err := fat32.Mount(cache)
	require.NoError(t, err)
	require.NoError(t, volume.WriteFile(volume.Root(), "cached.txt", []byte("pending")))
	assert.NotZero(t, cache.DirtySectors())

	_, err = backing.Find(backing.Root(), "cached.txt")
	assert.ErrorIs(t, err, ringfs.ErrNotFound, "nothing should reach the device before Flush")

	require.NoError(t, volume.Flush())
	assert.Zero(t, cache.DirtySectors())
	data, err := backing.ReadAll(backing.Root(), "cached.txt")
	require.NoError(t, err)
	assert.Equal(t, "pending", string(data))

	// Devices that don't buffer have nothing to flush.
	assert.NoError(t, backing.Flush())
}
