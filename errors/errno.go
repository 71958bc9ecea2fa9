// Package errors is a compatibility shim for POSIX-defined errno codes across
// platforms. The syscall package doesn't define all the values we need on all
// systems, particularly things like EUCLEAN and EMEDIUMTYPE, and the filesystem
// engine must behave the same no matter which host it runs on.
package errors

import (
	"fmt"
)

type Errno int

var errorMessagesByCode map[Errno]string

const (
	EOK Errno = iota
	EPERM
	ENOENT
	EIO
	EEXIST
	ENOTDIR
	EISDIR
	EINVAL
	EFBIG
	ENOSPC
	EROFS
	ENAMETOOLONG
	ELOOP
	ENODATA
	ENOBUFS
	EUCLEAN
	EMEDIUMTYPE
)

func init() {
	errorMessagesByCode = make(map[Errno]string, 16)
	errorMessagesByCode[EPERM] = "Operation not permitted"
	errorMessagesByCode[ENOENT] = "No such file or directory"
	errorMessagesByCode[EIO] = "Input/output error"
	errorMessagesByCode[EEXIST] = "File exists"
	errorMessagesByCode[ENOTDIR] = "Not a directory"
	errorMessagesByCode[EISDIR] = "Is a directory"
	errorMessagesByCode[EINVAL] = "Invalid argument"
	errorMessagesByCode[EFBIG] = "File too large"
	errorMessagesByCode[ENOSPC] = "No space left on device"
	errorMessagesByCode[EROFS] = "Read-only file system"
	errorMessagesByCode[ENAMETOOLONG] = "File name too long"
	errorMessagesByCode[ELOOP] = "Too many levels of symbolic links"
	errorMessagesByCode[ENODATA] = "No data available"
	errorMessagesByCode[ENOBUFS] = "No buffer space available"
	errorMessagesByCode[EUCLEAN] = "Structure needs cleaning"
	errorMessagesByCode[EMEDIUMTYPE] = "Wrong medium type"
}

// StrError returns the canonical message for an errno code.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}
