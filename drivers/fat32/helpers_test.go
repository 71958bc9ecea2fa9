package fat32_test

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/stretchr/testify/require"
)

// rawFATEntry reads the full 32-bit FAT entry for `cluster` in FAT copy
// `copyIndex` straight from the device's memory, bypassing the engine.
func rawFATEntry(
	device *common.MemoryDevice, layout *fat32.Layout, copyIndex int, cluster fat32.ClusterID,
) uint32 {
	offset := (int(layout.FATStart)+copyIndex*int(layout.FATSize32))*ringfs.SectorSize +
		int(cluster)*4
	return binary.LittleEndian.Uint32(device.Bytes()[offset:])
}

func setRawFATEntry(
	device *common.MemoryDevice,
	layout *fat32.Layout,
	copyIndex int,
	cluster fat32.ClusterID,
	value uint32,
) {
	offset := (int(layout.FATStart)+copyIndex*int(layout.FATSize32))*ringfs.SectorSize +
		int(cluster)*4
	binary.LittleEndian.PutUint32(device.Bytes()[offset:], value)
}

// rawSlot returns the 32 bytes of the directory entry in `slot`.
func rawSlot(device *common.MemoryDevice, slot fat32.Slot) []byte {
	offset := int(slot.LBA)*ringfs.SectorSize + slot.Index*fat32.DirentSize
	return device.Bytes()[offset : offset+fat32.DirentSize]
}

func randomBytes(t *testing.T, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}
