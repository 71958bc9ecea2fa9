package ringfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/ringos/ringfs/errors"
)

// DriverError is the error type returned by every operation in this module. It
// carries an errno code so callers (and the command-line tools) can classify a
// failure without parsing its message.
type DriverError interface {
	error
	Errno() errors.Errno
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseDriverError errors.Errno

var ErrIOFailed = baseDriverError(errors.EIO)
var ErrNotFound = baseDriverError(errors.ENOENT)
var ErrExists = baseDriverError(errors.EEXIST)
var ErrNotADirectory = baseDriverError(errors.ENOTDIR)
var ErrIsADirectory = baseDriverError(errors.EISDIR)
var ErrInvalidArgument = baseDriverError(errors.EINVAL)
var ErrFileTooLarge = baseDriverError(errors.EFBIG)
var ErrNameTooLong = baseDriverError(errors.ENAMETOOLONG)
var ErrBufferTooSmall = baseDriverError(errors.ENOBUFS)
var ErrBadVolume = baseDriverError(errors.EUCLEAN)
var ErrBadSectorSize = baseDriverError(errors.EMEDIUMTYPE).WithMessage("sector size must be 512 bytes")

// ErrNoFreeSlot and ErrOutOfClusters share ENOSPC but stay distinguishable with
// errors.Is.
var ErrNoFreeSlot = baseDriverError(errors.ENOSPC).WithMessage("directory has no free slot")
var ErrOutOfClusters = baseDriverError(errors.ENOSPC).WithMessage("no free clusters")

var ErrTruncatedFile = baseDriverError(errors.ENODATA).WithMessage("cluster chain ends before file size")
var ErrChainCycle = baseDriverError(errors.ELOOP).WithMessage("cluster chain is longer than the volume")
var ErrDirectoryStackFull = baseDriverError(errors.ENAMETOOLONG).WithMessage("directory nesting too deep")

func (e baseDriverError) Error() string {
	return errors.StrError(errors.Errno(e))
}

func (e baseDriverError) Errno() errors.Errno {
	return errors.Errno(e)
}

func (e baseDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         errors.Errno(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e baseDriverError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         errors.Errno(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	errno         errors.Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) Errno() errors.Errno {
	return e.errno
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError converts any error into a DriverError. Errors that already
// are DriverErrors are returned as-is; anything else is treated as an I/O
// failure. nil stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	if drvErr, ok := err.(DriverError); ok {
		return drvErr
	}
	return ErrIOFailed.Wrap(err)
}
