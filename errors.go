package layfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Status is the outcome of a filesystem operation as seen by the driver host.
type Status int

const (
	StatusSuccess Status = iota
	// StatusNotFound reports a missing file.
	StatusNotFound
	// StatusPathNotFound reports a missing path component or directory.
	StatusPathNotFound
	// StatusAlreadyExists reports a creation colliding with any existing entry.
	StatusAlreadyExists
	// StatusFileExists reports a file creation colliding with an existing file.
	StatusFileExists
	StatusNotADirectory
	StatusIsADirectory
	StatusAccessDenied
	// StatusSharingViolation reports a concurrent-access conflict. Callers may retry.
	StatusSharingViolation
	StatusDiskFull
	StatusIOFailure
	StatusUnimplemented
	// StatusUnsuccessful is the catch-all for failures with no other classification.
	StatusUnsuccessful
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusNotFound:         "file not found",
	StatusPathNotFound:     "path not found",
	StatusAlreadyExists:    "already exists",
	StatusFileExists:       "file exists",
	StatusNotADirectory:    "not a directory",
	StatusIsADirectory:     "is a directory",
	StatusAccessDenied:     "access denied",
	StatusSharingViolation: "sharing violation",
	StatusDiskFull:         "disk full",
	StatusIOFailure:        "i/o failure",
	StatusUnimplemented:    "not implemented",
	StatusUnsuccessful:     "unsuccessful",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Sentinel errors, one per status. Every *Error matches the sentinel of its
// status with errors.Is; PathNotFound also matches ErrNotFound and FileExists
// also matches ErrAlreadyExists.
var (
	ErrNotFound         = errors.New("layfs: file not found")
	ErrPathNotFound     = errors.New("layfs: path not found")
	ErrAlreadyExists    = errors.New("layfs: already exists")
	ErrFileExists       = errors.New("layfs: file exists")
	ErrNotADirectory    = errors.New("layfs: not a directory")
	ErrIsADirectory     = errors.New("layfs: is a directory")
	ErrAccessDenied     = errors.New("layfs: access denied")
	ErrSharingViolation = errors.New("layfs: sharing violation")
	ErrDiskFull         = errors.New("layfs: disk full")
	ErrIOFailure        = errors.New("layfs: i/o failure")
	ErrUnimplemented    = errors.New("layfs: not implemented")
	ErrUnsuccessful     = errors.New("layfs: unsuccessful")

	// ErrNotEmpty is wrapped by AccessDenied errors for non-empty directory deletes.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrInvalidHandle is wrapped when an operation gets a nil or released handle.
	ErrInvalidHandle = errors.New("invalid handle")

	errReadOnlyLayer = errors.New("entry is in the read-only layer")
)

var statusErrors = map[Status]error{
	StatusNotFound:         ErrNotFound,
	StatusPathNotFound:     ErrPathNotFound,
	StatusAlreadyExists:    ErrAlreadyExists,
	StatusFileExists:       ErrFileExists,
	StatusNotADirectory:    ErrNotADirectory,
	StatusIsADirectory:     ErrIsADirectory,
	StatusAccessDenied:     ErrAccessDenied,
	StatusSharingViolation: ErrSharingViolation,
	StatusDiskFull:         ErrDiskFull,
	StatusIOFailure:        ErrIOFailure,
	StatusUnimplemented:    ErrUnimplemented,
	StatusUnsuccessful:     ErrUnsuccessful,
}

// Error is a classified failure of a core operation.
type Error struct {
	Op     string
	Path   string
	Status Status
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Status.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's status, its family, or
// the matching io/fs error.
func (e *Error) Is(target error) bool {
	if sentinel, ok := statusErrors[e.Status]; ok && sentinel == target {
		return true
	}
	switch e.Status {
	case StatusNotFound:
		return target == fs.ErrNotExist
	case StatusPathNotFound:
		return target == ErrNotFound || target == fs.ErrNotExist
	case StatusAlreadyExists:
		return target == fs.ErrExist
	case StatusFileExists:
		return target == ErrAlreadyExists || target == fs.ErrExist
	case StatusAccessDenied:
		return target == fs.ErrPermission
	}
	return false
}

func newError(op, path string, status Status, err error) *Error {
	return &Error{Op: op, Path: path, Status: status, Err: err}
}

// osError classifies an error returned by the underlying storage and wraps it.
func osError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return newError(op, path, Classify(err), err)
}

// Classify maps an error to the status taxonomy. It performs no I/O.
func Classify(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	var le *Error
	if errors.As(err, &le) {
		return le.Status
	}

	for status, sentinel := range statusErrors {
		if errors.Is(err, sentinel) {
			return status
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return classifyErrno(errno)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return StatusNotFound
	case errors.Is(err, fs.ErrExist):
		return StatusAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return StatusAccessDenied
	}
	return StatusUnsuccessful
}

func classifyErrno(errno syscall.Errno) Status {
	switch errno {
	case syscall.ENOENT:
		return StatusNotFound
	case syscall.ENOTDIR:
		return StatusPathNotFound
	case syscall.EEXIST:
		return StatusAlreadyExists
	case syscall.EISDIR:
		return StatusIsADirectory
	case syscall.EACCES, syscall.EPERM, syscall.EROFS, syscall.EBADF, syscall.ENOTEMPTY:
		return StatusAccessDenied
	case syscall.EBUSY, syscall.ETXTBSY, syscall.EAGAIN:
		return StatusSharingViolation
	case syscall.ENOSPC, syscall.EDQUOT, syscall.EFBIG:
		return StatusDiskFull
	case syscall.EIO:
		return StatusIOFailure
	case syscall.ENOSYS, syscall.ENOTSUP:
		return StatusUnimplemented
	}
	return StatusUnsuccessful
}
