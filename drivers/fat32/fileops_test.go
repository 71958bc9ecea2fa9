package fat32_test

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/drivers/fat32/mkfs"
	ringtest "github.com/ringos/ringfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listNames(t *testing.T, volume *fat32.Volume, dir fat32.ClusterID) []string {
	names := []string{}
	err := volume.List(dir, func(name fat32.ShortName, _ uint32, _ uint8) error {
		names = append(names, name.String())
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestWriteFile__RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 511, 512, 513, 4103, 100 * 1024}

	for _, spc := range []uint8{1, 8} {
		for _, size := range sizes {
			size := size
			spc := spc
			t.Run(fmt.Sprintf("spc=%d/size=%d", spc, size), func(t *testing.T) {
				volume, _ := ringtest.FormatVolume(t, 1, mkfs.WithSectorsPerCluster(spc))
				data := randomBytes(t, size)

				require.NoError(t, volume.WriteFile(volume.Root(), "data.bin", data))

				entry, err := volume.Find(volume.Root(), "DATA.BIN")
				require.NoError(t, err)
				assert.EqualValues(t, size, entry.FileSize)
				if size == 0 {
					assert.Equal(t, fat32.FreeCluster, entry.FirstCluster())
				}

				buffer := make([]byte, size)
				n, err := volume.ReadFile(volume.Root(), "data.bin", buffer)
				require.NoError(t, err)
				assert.Equal(t, size, n)
				assert.Equal(t, data, buffer[:n])

				chain := []fat32.ClusterID{}
				if size > 0 {
					chain, err = volume.Table().Chain(entry.FirstCluster())
					require.NoError(t, err)
				}
				clusterSize := int(volume.Layout().BytesPerCluster)
				assert.Len(t, chain, (size+clusterSize-1)/clusterSize)
			})
		}
	}
}

func TestReadFile__BufferTooSmall(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.WriteFile(volume.Root(), "notes.txt", randomBytes(t, 100)))

	buffer := make([]byte, 50)
	for i := range buffer {
		buffer[i] = 0xAA
	}

	n, err := volume.ReadFile(volume.Root(), "notes.txt", buffer)
	assert.ErrorIs(t, err, ringfs.ErrBufferTooSmall)
	assert.Equal(t, 100, n, "should report the size needed")
	for i, b := range buffer {
		require.EqualValues(t, 0xAA, b, "buffer modified at offset %d", i)
	}
}

func TestReadFile__NotFound(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)

	_, err := volume.ReadFile(volume.Root(), "missing.txt", make([]byte, 10))
	assert.ErrorIs(t, err, ringfs.ErrNotFound)

	_, err = volume.ReadAll(volume.Root(), "missing.txt")
	assert.ErrorIs(t, err, ringfs.ErrNotFound)
}

func TestReadFile__Directory(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.CreateDirectory(volume.Root(), "docs"))

	_, err := volume.ReadAll(volume.Root(), "docs")
	assert.ErrorIs(t, err, ringfs.ErrIsADirectory)
}

func TestReadFile__TruncatedChain(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	data := randomBytes(t, 4*ringfs.SectorSize)
	require.NoError(t, volume.WriteFile(volume.Root(), "big.bin", data))

	entry, err := volume.Find(volume.Root(), "big.bin")
	require.NoError(t, err)
	chain, err := volume.Table().Chain(entry.FirstCluster())
	require.NoError(t, err)
	require.Len(t, chain, 4)

	// Cut the chain after its second cluster.
	require.NoError(t, volume.Table().Set(chain[1], fat32.EndOfChain))

	buffer := make([]byte, len(data))
	n, err := volume.ReadFile(volume.Root(), "big.bin", buffer)
	assert.ErrorIs(t, err, ringfs.ErrTruncatedFile)
	assert.Equal(t, 2*ringfs.SectorSize, n)
	assert.Equal(t, data[:n], buffer[:n])
}

func TestReadFile__SizeWithoutClusters(t *testing.T) {
	volume, device := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.CreateFile(volume.Root(), "empty.txt"))

	entry, err := volume.Find(volume.Root(), "empty.txt")
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(rawSlot(device, entry.Slot)[28:], 100)

	_, err = volume.ReadAll(volume.Root(), "empty.txt")
	assert.ErrorIs(t, err, ringfs.ErrTruncatedFile)
}

func TestReadAll__SizeLargerThanChain(t *testing.T) {
	volume, device := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.WriteFile(volume.Root(), "small.bin", randomBytes(t, 1000)))

	entry, err := volume.Find(volume.Root(), "small.bin")
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(rawSlot(device, entry.Slot)[28:], 0xFFFFFFF0)

	data, err := volume.ReadAll(volume.Root(), "small.bin")
	assert.ErrorIs(t, err, ringfs.ErrTruncatedFile)
	assert.Nil(t, data)
}

func TestReadFile__ZeroSizeIgnoresChain(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.CreateFile(volume.Root(), "empty.txt"))

	n, err := volume.ReadFile(volume.Root(), "empty.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCreateFile__Exists(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	require.NoError(t, volume.CreateFile(root, "a.txt"))
	assert.ErrorIs(t, volume.CreateFile(root, "A.TXT"), ringfs.ErrExists)
	assert.ErrorIs(t, volume.CreateDirectory(root, "a.txt"), ringfs.ErrExists)

	require.NoError(t, volume.CreateDirectory(root, "sub"))
	assert.ErrorIs(t, volume.CreateFile(root, "sub"), ringfs.ErrExists)
	assert.ErrorIs(t, volume.CreateDirectory(root, "SUB"), ringfs.ErrExists)

	assert.Equal(t, []string{"A.TXT", "SUB"}, listNames(t, volume, root))
}

func TestCreateFile__InvalidName(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, " lead", "\xE5x", "\x00x", ".cfg", "a\x01b.txt", "x.t\x1f"} {
		assert.ErrorIs(t, volume.CreateFile(root, name), ringfs.ErrInvalidArgument, "%q", name)
		assert.ErrorIs(t, volume.CreateDirectory(root, name), ringfs.ErrInvalidArgument, "%q", name)
		assert.ErrorIs(t, volume.WriteFile(root, name, []byte("x")), ringfs.ErrInvalidArgument, "%q", name)
	}
	assert.Empty(t, listNames(t, volume, root))
}

// A name whose 8.3 form starts with the end marker must not be able to land in
// a reused slot and cut the directory short.
func TestCreateFile__EndMarkerNameKeepsListing(t *testing.T) {
	volume, device := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, volume.CreateFile(root, name))
	}
	deleted, err := volume.Find(root, "a.txt")
	require.NoError(t, err)
	require.NoError(t, volume.DeleteFile(root, "a.txt"))

	assert.ErrorIs(t, volume.CreateFile(root, "\x00x"), ringfs.ErrInvalidArgument)
	assert.EqualValues(t, 0xE5, rawSlot(device, deleted.Slot)[0])
	assert.Equal(t, []string{"B.TXT", "C.TXT"}, listNames(t, volume, root))
}

func TestDeleteFile__Tombstone(t *testing.T) {
	volume, device := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, volume.WriteFile(root, name, []byte(name)))
	}

	deleted, err := volume.Find(root, "b")
	require.NoError(t, err)
	require.NoError(t, volume.DeleteFile(root, "b"))

	assert.EqualValues(t, 0xE5, rawSlot(device, deleted.Slot)[0])
	assert.Equal(t, []string{"A", "C"}, listNames(t, volume, root))

	_, err = volume.Find(root, "b")
	assert.ErrorIs(t, err, ringfs.ErrNotFound)
	assert.ErrorIs(t, volume.DeleteFile(root, "b"), ringfs.ErrNotFound)

	// The chain stays allocated after a delete.
	next, err := volume.Table().Next(deleted.FirstCluster())
	require.NoError(t, err)
	assert.Equal(t, fat32.EndOfChain, next)

	require.NoError(t, volume.CreateFile(root, "d"))
	created, err := volume.Find(root, "d")
	require.NoError(t, err)
	assert.Equal(t, deleted.Slot, created.Slot, "the tombstone should be reused")
	assert.Equal(t, []string{"A", "D", "C"}, listNames(t, volume, root))
}

func TestDeleteFile__Refused(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()
	require.NoError(t, volume.CreateDirectory(root, "docs"))

	assert.ErrorIs(t, volume.DeleteFile(root, "docs"), ringfs.ErrIsADirectory)
	assert.ErrorIs(t, volume.DeleteFile(root, "."), ringfs.ErrInvalidArgument)
	assert.ErrorIs(t, volume.DeleteFile(root, ".."), ringfs.ErrInvalidArgument)
	assert.Equal(t, []string{"DOCS"}, listNames(t, volume, root))
}

func TestWriteFile__ReplaceFreesOldChain(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	before, err := volume.Table().CountFree()
	require.NoError(t, err)

	require.NoError(t, volume.WriteFile(root, "log.txt", randomBytes(t, 2000)))
	original, err := volume.Find(root, "log.txt")
	require.NoError(t, err)

	replacement := randomBytes(t, 600)
	require.NoError(t, volume.WriteFile(root, "LOG.TXT", replacement))

	updated, err := volume.Find(root, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, original.Slot, updated.Slot, "the entry should be updated in place")
	assert.EqualValues(t, 600, updated.FileSize)

	after, err := volume.Table().CountFree()
	require.NoError(t, err)
	assert.Equal(t, before-2, after)

	data, err := volume.ReadAll(root, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, replacement, data)
	assert.Equal(t, []string{"LOG.TXT"}, listNames(t, volume, root))
}

func TestWriteFile__Directory(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.CreateDirectory(volume.Root(), "docs"))

	before, err := volume.Table().CountFree()
	require.NoError(t, err)

	err = volume.WriteFile(volume.Root(), "docs", []byte("nope"))
	assert.ErrorIs(t, err, ringfs.ErrIsADirectory)

	after, err := volume.Table().CountFree()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWriteFile__RollbackOnWriteFailure(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSizeInMB(1))
	_, err := builder.Bytes()
	require.NoError(t, err)

	faulty := common.NewFaultyDevice(builder.Device())
	volume, err := fat32.Mount(faulty)
	require.NoError(t, err)

	before, err := volume.Table().CountFree()
	require.NoError(t, err)

	faulty.FailWrites(volume.Layout().ClusterToLBA(4))
	err = volume.WriteFile(volume.Root(), "kernel.bin", randomBytes(t, 3*ringfs.SectorSize))
	assert.ErrorIs(t, err, ringfs.ErrIOFailed)

	after, err := volume.Table().CountFree()
	require.NoError(t, err)
	assert.Equal(t, before, after, "clusters leaked after a failed write")

	_, err = volume.Find(volume.Root(), "kernel.bin")
	assert.ErrorIs(t, err, ringfs.ErrNotFound)

	faulty.Heal()
	require.NoError(t, volume.WriteFile(volume.Root(), "kernel.bin", []byte("ok")))
}

func TestWriteFile__OutOfClusters(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSize(100*ringfs.SectorSize))
	volume := ringtest.MountBuilder(t, builder)

	err := volume.WriteFile(volume.Root(), "huge.bin", randomBytes(t, 66*ringfs.SectorSize))
	assert.ErrorIs(t, err, ringfs.ErrOutOfClusters)

	free, err := volume.Table().CountFree()
	require.NoError(t, err)
	assert.EqualValues(t, 65, free)

	require.NoError(t, volume.WriteFile(volume.Root(), "fits.bin", randomBytes(t, 65*ringfs.SectorSize)))
}

func TestCreateFile__ExtendsRoot(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()

	for i := 0; i < fat32.DirentsPerSector+1; i++ {
		require.NoError(t, volume.CreateFile(root, fmt.Sprintf("file%d.txt", i)))
	}

	chain, err := volume.Table().Chain(root)
	require.NoError(t, err)
	assert.Equal(t, []fat32.ClusterID{root, 3}, chain)

	names := listNames(t, volume, root)
	assert.Len(t, names, fat32.DirentsPerSector+1)
	assert.Equal(t, "FILE16.TXT", names[len(names)-1])

	_, err = volume.Find(root, "file16.txt")
	assert.NoError(t, err)
}

func TestCreateFile__ExtendsSubdirectory(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	require.NoError(t, volume.CreateDirectory(volume.Root(), "sub"))
	sub, err := volume.Find(volume.Root(), "sub")
	require.NoError(t, err)
	dir := sub.FirstCluster()

	// "." and ".." take two of the 16 slots in the first cluster.
	for i := 0; i < fat32.DirentsPerSector-1; i++ {
		require.NoError(t, volume.CreateFile(dir, fmt.Sprintf("f%d", i)))
	}

	chain, err := volume.Table().Chain(dir)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.Len(t, listNames(t, volume, dir), fat32.DirentsPerSector-1)
}

func TestCreateDirectory__DotEntries(t *testing.T) {
	volume, device := ringtest.FormatVolume(t, 1)
	layout := volume.Layout()

	require.NoError(t, volume.CreateDirectory(volume.Root(), "a"))
	a, err := volume.Find(volume.Root(), "a")
	require.NoError(t, err)
	require.True(t, a.IsDir())

	require.NoError(t, volume.CreateDirectory(a.FirstCluster(), "b"))
	b, err := volume.Find(a.FirstCluster(), "b")
	require.NoError(t, err)

	for _, test := range []struct {
		Dir    fat32.ClusterID
		Parent fat32.ClusterID
	}{
		{a.FirstCluster(), fat32.FreeCluster},
		{b.FirstCluster(), a.FirstCluster()},
	} {
		lba := layout.ClusterToLBA(test.Dir)
		self := fat32.DecodeDirent(rawSlot(device, fat32.Slot{LBA: lba, Index: 0}))
		up := fat32.DecodeDirent(rawSlot(device, fat32.Slot{LBA: lba, Index: 1}))

		assert.Equal(t, ".", self.Name.String())
		assert.True(t, self.IsDir())
		assert.Equal(t, test.Dir, self.FirstCluster())

		assert.Equal(t, "..", up.Name.String())
		assert.True(t, up.IsDir())
		assert.Equal(t, test.Parent, up.FirstCluster())
	}

	assert.Empty(t, listNames(t, volume, b.FirstCluster()), "dot entries must not be listed")

	// Cluster 0 in a ".." entry means the root directory.
	assert.Equal(t, []string{"A"}, listNames(t, volume, fat32.FreeCluster))
}

func TestEntries__FileInfo(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSizeInMB(1), mkfs.WithVolumeLabel("ringos"))
	_, err := builder.Bytes()
	require.NoError(t, err)

	now := time.Date(2025, time.January, 2, 3, 4, 6, 0, time.UTC)
	volume, err := fat32.Mount(builder.Device(), ringfs.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	root := volume.Root()

	require.NoError(t, volume.WriteFile(root, "readme.txt", []byte("hello")))
	require.NoError(t, volume.CreateDirectory(root, "bin"))

	entries, err := volume.Entries(root)
	require.NoError(t, err)
	require.Len(t, entries, 2, "the volume label must be hidden")

	var info os.FileInfo = entries[0]
	assert.Equal(t, "README.TXT", info.Name())
	assert.EqualValues(t, 5, info.Size())
	assert.False(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o644), info.Mode())
	assert.True(t, now.Equal(info.ModTime()))
	assert.IsType(t, fat32.RawDirent{}, info.Sys())
	assert.Equal(t, root, entries[0].Parent)

	info = entries[1]
	assert.Equal(t, "BIN", info.Name())
	assert.True(t, info.IsDir())
	assert.Equal(t, os.ModeDir|0o755, info.Mode())
}

func TestList__StopsOnCallbackError(t *testing.T) {
	volume, _ := ringtest.FormatVolume(t, 1)
	root := volume.Root()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, volume.CreateFile(root, name))
	}

	stop := fmt.Errorf("enough")
	calls := 0
	err := volume.List(root, func(_ fat32.ShortName, _ uint32, _ uint8) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestList__ReadFailure(t *testing.T) {
	builder := ringtest.NewBuilder(t, mkfs.WithSizeInMB(1))
	_, err := builder.Bytes()
	require.NoError(t, err)

	faulty := common.NewFaultyDevice(builder.Device())
	volume, err := fat32.Mount(faulty)
	require.NoError(t, err)

	faulty.FailReads(volume.Layout().ClusterToLBA(volume.Root()))
	err = volume.List(volume.Root(), func(fat32.ShortName, uint32, uint8) error { return nil })
	assert.ErrorIs(t, err, ringfs.ErrIOFailed)
}
