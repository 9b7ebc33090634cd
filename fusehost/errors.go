//go:build linux

package fusehost

import (
	"errors"
	"syscall"

	"github.com/absfs/layfs"
	"github.com/sirupsen/logrus"
)

// sysErrno maps a core failure onto the errno the kernel hands back to the
// caller. Unclassified failures are logged and reported as EIO.
func sysErrno(log logrus.FieldLogger, err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch layfs.Classify(err) {
	case layfs.StatusSuccess:
		return 0
	case layfs.StatusNotFound, layfs.StatusPathNotFound:
		return syscall.ENOENT
	case layfs.StatusAlreadyExists, layfs.StatusFileExists:
		return syscall.EEXIST
	case layfs.StatusNotADirectory:
		return syscall.ENOTDIR
	case layfs.StatusIsADirectory:
		return syscall.EISDIR
	case layfs.StatusAccessDenied:
		if errors.Is(err, layfs.ErrNotEmpty) {
			return syscall.ENOTEMPTY
		}
		return syscall.EACCES
	case layfs.StatusSharingViolation:
		return syscall.EBUSY
	case layfs.StatusDiskFull:
		return syscall.ENOSPC
	case layfs.StatusIOFailure:
		return syscall.EIO
	case layfs.StatusUnimplemented:
		return syscall.ENOTSUP
	}

	if log != nil {
		log.WithError(err).Debug("Unmapped error")
	}
	return syscall.EIO
}
