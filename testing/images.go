package testing

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/drivers/fat32/mkfs"
	"github.com/ringos/ringfs/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CreateRandomImage returns `totalSectors` sectors of random bytes. It is
// guaranteed to either return a valid slice or fail the test and abort.
func CreateRandomImage(totalSectors uint, t *testing.T) []byte {
	backingData := make([]byte, totalSectors*ringfs.SectorSize)

	_, err := rand.Read(backingData)
	require.NoErrorf(t, err, "failed to fill %d sectors with random bytes", totalSectors)
	return backingData
}

// ImageStream exposes `image` as a stream. Writes go straight to `image`, and
// the stream can't grow past its end.
func ImageStream(image []byte) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(image)
}

// LoadDiskImage takes an image produced by compression.CompressImage and
// returns a stream over the uncompressed data. Writes to the stream do not
// affect `compressedImageBytes`.
func LoadDiskImage(t *testing.T, compressedImageBytes []byte, totalSectors uint) io.ReadWriteSeeker {
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)
	require.EqualValues(
		t, totalSectors*ringfs.SectorSize, len(imageBytes), "uncompressed image is wrong size")
	return ImageStream(imageBytes)
}

// NewBuilder creates a volume builder, failing the test if the options are
// invalid.
func NewBuilder(t *testing.T, opts ...mkfs.Option) *mkfs.Builder {
	builder, err := mkfs.New(opts...)
	require.NoError(t, err, "failed to format volume")
	return builder
}

// FormatVolume builds an empty volume of `sizeMB` MiB and mounts it. The
// device is returned too so tests can inspect or corrupt the raw sectors.
func FormatVolume(t *testing.T, sizeMB int, opts ...mkfs.Option) (*fat32.Volume, *common.MemoryDevice) {
	builder := NewBuilder(t, append([]mkfs.Option{mkfs.WithSizeInMB(sizeMB)}, opts...)...)
	return MountBuilder(t, builder), builder.Device()
}

// MountBuilder mounts the image a builder produced, in place.
func MountBuilder(t *testing.T, builder *mkfs.Builder) *fat32.Volume {
	_, err := builder.Bytes()
	require.NoError(t, err)

	volume, err := fat32.Mount(builder.Device())
	require.NoError(t, err, "failed to mount volume")
	return volume
}
