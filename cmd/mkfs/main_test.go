package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSourceTree(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "readme.txt"), []byte("Hello, world!"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	return root
}

func mountImage(t *testing.T, path string) *fat32.Volume {
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	image, err := compression.ReadImage(file)
	require.NoError(t, err)
	device, err := common.NewMemoryDeviceFromBytes(image)
	require.NoError(t, err)
	volume, err := fat32.Mount(device)
	require.NoError(t, err)
	return volume
}

func TestBuildImage(t *testing.T) {
	source := makeSourceTree(t)
	output := filepath.Join(t.TempDir(), "disk.img")

	err := newApp().Run([]string{"mkfs", "--size-mb", "2", "--label", "boot", source, output})
	require.NoError(t, err)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.EqualValues(t, 2*1024*1024, info.Size())

	volume := mountImage(t, output)
	stats, err := volume.Stats()
	require.NoError(t, err)
	assert.Equal(t, "BOOT", stats.Label)

	session := volume.NewSession()
	require.NoError(t, session.ChangeDirectory("docs"))
	data, err := session.ReadAll("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", string(data))
}

func TestBuildImage__Compressed(t *testing.T) {
	source := makeSourceTree(t)
	output := filepath.Join(t.TempDir(), "disk.img.gz")

	err := newApp().Run([]string{"mkfs", "--size-mb", "4", "--compress", source, output})
	require.NoError(t, err)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(64*1024))

	volume := mountImage(t, output)
	assert.EqualValues(t, 4*1024*1024/ringfs.SectorSize, volume.Layout().TotalSectors())
}

func TestBuildImage__ConfigFile(t *testing.T) {
	source := makeSourceTree(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mkfs.yml")
	output := filepath.Join(dir, "disk.img")

	config := "size-mb: 3\nsectors-per-cluster: 4\nlabel: fromfile\nfats: 1\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	err := newApp().Run([]string{"mkfs", "--config", configPath, "--label", "fromflag", source, output})
	require.NoError(t, err)

	volume := mountImage(t, output)
	layout := volume.Layout()
	assert.EqualValues(t, 3*1024*1024/ringfs.SectorSize, layout.TotalSectors())
	assert.EqualValues(t, 4, layout.SectorsPerCluster)
	assert.EqualValues(t, 1, layout.NumFATs)
	assert.Equal(t, "FROMFLAG", layout.Label(), "flags should override the config file")
}

func TestBuildImage__Failures(t *testing.T) {
	source := makeSourceTree(t)
	dir := t.TempDir()

	tests := []struct {
		Name string
		Args []string
	}{
		{"missing arguments", []string{"mkfs", source}},
		{"missing source", []string{"mkfs", filepath.Join(dir, "nope"), filepath.Join(dir, "a.img")}},
		{"bad cluster size", []string{"mkfs", "--sectors-per-cluster", "3", source, filepath.Join(dir, "b.img")}},
		{"cluster size overflows", []string{"mkfs", "--sectors-per-cluster", "256", source, filepath.Join(dir, "d.img")}},
		{"zero cluster size", []string{"mkfs", "--sectors-per-cluster", "0", source, filepath.Join(dir, "e.img")}},
		{"zero size", []string{"mkfs", "--size-mb", "0", source, filepath.Join(dir, "f.img")}},
		{"label too long", []string{"mkfs", "--label", "much too long", source, filepath.Join(dir, "c.img")}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			assert.Error(t, newApp().Run(test.Args))
		})
	}
}

func TestReadConfig__UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("sise-mb: 3\n"), 0o644))

	_, err := readConfig(path)
	assert.Error(t, err)
}

func TestBuildImage__ClusterSizeOutOfRange(t *testing.T) {
	source := makeSourceTree(t)
	output := filepath.Join(t.TempDir(), "disk.img")

	for _, value := range []string{"0", "256", "513"} {
		err := newApp().Run([]string{"mkfs", "--sectors-per-cluster", value, source, output})
		assert.ErrorIs(t, err, ringfs.ErrInvalidArgument, value)

		_, err = os.Stat(output)
		assert.True(t, os.IsNotExist(err), "no image should be written for %s", value)
	}
}
