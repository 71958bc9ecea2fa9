package ringfs_test

import (
	"errors"
	"testing"

	"github.com/ringos/ringfs"
	errno "github.com/ringos/ringfs/errors"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWithMessage(t *testing.T) {
	newErr := ringfs.ErrNotFound.WithMessage("README.TXT")
	assert.Equal(
		t, "No such file or directory: README.TXT", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, ringfs.ErrNotFound)
	assert.Equal(t, errno.ENOENT, newErr.Errno())
}

func TestDriverErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := ringfs.ErrExists.Wrap(originalErr)
	expectedMessage := "File exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, ringfs.ErrExists, "driver error not set as parent")
}

func TestSpaceErrorsAreDistinct(t *testing.T) {
	slotErr := ringfs.ErrNoFreeSlot.WithMessage("cluster 2")
	clusterErr := ringfs.ErrOutOfClusters.WithMessage("writing DATA.BIN")

	assert.ErrorIs(t, slotErr, ringfs.ErrNoFreeSlot)
	assert.NotErrorIs(t, slotErr, ringfs.ErrOutOfClusters)
	assert.ErrorIs(t, clusterErr, ringfs.ErrOutOfClusters)
	assert.NotErrorIs(t, clusterErr, ringfs.ErrNoFreeSlot)
	assert.Equal(t, errno.ENOSPC, slotErr.Errno())
	assert.Equal(t, errno.ENOSPC, clusterErr.Errno())
}

func TestCastToDriverError(t *testing.T) {
	assert.Nil(t, ringfs.CastToDriverError(nil))

	drvErr := ringfs.ErrBadVolume.WithMessage("bad root cluster")
	assert.Equal(t, drvErr, ringfs.CastToDriverError(drvErr))

	plain := errors.New("short write")
	cast := ringfs.CastToDriverError(plain)
	assert.ErrorIs(t, cast, ringfs.ErrIOFailed)
	assert.ErrorIs(t, cast, plain)
}
