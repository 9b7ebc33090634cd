//go:build linux

package fusehost

import (
	"context"
	"math"
	"syscall"

	"github.com/absfs/layfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

type handle struct {
	m   *layfs.Mount
	h   *layfs.Handle
	log logrus.FieldLogger
}

func (h *handle) errno(err error) syscall.Errno {
	return sysErrno(h.log, err)
}

var _ = (fs.FileReader)((*handle)(nil))

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.m.Read(h.h, dest, off)
	if err != nil {
		return nil, h.errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

var _ = (fs.FileWriter)((*handle)(nil))

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.m.Write(h.h, data, off)
	if err != nil {
		return uint32(n), h.errno(err)
	}
	return uint32(n), 0
}

var _ = (fs.FileFlusher)((*handle)(nil))

// Flush runs on every close(2) of a descriptor sharing the handle. The
// handle itself stays open until Release.
func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

var _ = (fs.FileFsyncer)((*handle)(nil))

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.errno(h.m.Flush(h.h))
}

var _ = (fs.FileReleaser)((*handle)(nil))

func (h *handle) Release(ctx context.Context) syscall.Errno {
	err := h.m.Cleanup(h.h, false)
	if cerr := h.m.Close(h.h); err == nil {
		err = cerr
	}
	return h.errno(err)
}

var _ = (fs.FileGetattrer)((*handle)(nil))

func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	if _, err := statHandle(h.m, h.h, &out.Attr); err != nil {
		return h.errno(err)
	}
	return 0
}

var _ = (fs.FileGetlker)((*handle)(nil))

func (h *handle) Getlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) syscall.Errno {
	return syscall.EOPNOTSUPP
}

var _ = (fs.FileSetlker)((*handle)(nil))

func (h *handle) Setlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	offset, length := lockRange(lk)
	if lk.Typ == syscall.F_UNLCK {
		return h.errno(h.m.UnlockByteRange(h.h, offset, length))
	}
	return h.errno(h.m.LockByteRange(h.h, offset, length))
}

var _ = (fs.FileSetlkwer)((*handle)(nil))

// Setlkw does not wait: a conflicting lock fails the same way as in Setlk.
func (h *handle) Setlkw(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return h.Setlk(ctx, owner, lk, flags)
}

// lockRange converts the inclusive kernel range into offset and length. A
// zero length extends to the end of the file.
func lockRange(lk *fuse.FileLock) (offset, length int64) {
	offset = int64(lk.Start)
	if lk.End == math.MaxUint64 || lk.End > math.MaxInt64 {
		return offset, 0
	}
	return offset, int64(lk.End-lk.Start) + 1
}
