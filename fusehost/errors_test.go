//go:build linux

package fusehost

import (
	"errors"
	"fmt"
	"math"
	"os"
	"syscall"
	"testing"

	"github.com/absfs/layfs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestSysErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", layfs.ErrNotFound, syscall.ENOENT},
		{"path not found", layfs.ErrPathNotFound, syscall.ENOENT},
		{"exists", layfs.ErrFileExists, syscall.EEXIST},
		{"not a directory", layfs.ErrNotADirectory, syscall.ENOTDIR},
		{"is a directory", layfs.ErrIsADirectory, syscall.EISDIR},
		{"denied", layfs.ErrAccessDenied, syscall.EACCES},
		{"not empty", &layfs.Error{Op: "delete", Status: layfs.StatusAccessDenied, Err: layfs.ErrNotEmpty}, syscall.ENOTEMPTY},
		{"wrapped", fmt.Errorf("remove: %w", layfs.ErrNotFound), syscall.ENOENT},
		{"sharing", layfs.ErrSharingViolation, syscall.EBUSY},
		{"disk full", layfs.ErrDiskFull, syscall.ENOSPC},
		{"io", layfs.ErrIOFailure, syscall.EIO},
		{"unimplemented", layfs.ErrUnimplemented, syscall.ENOTSUP},
		{"os not exist", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, syscall.ENOENT},
		{"unknown", errors.New("boom"), syscall.EIO},
	}

	log, hook := test.NewNullLogger()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sysErrno(log, tt.err))
		})
	}
	assert.NotEmpty(t, hook.AllEntries())
}

func TestLockRange(t *testing.T) {
	tests := []struct {
		start, end     uint64
		offset, length int64
	}{
		{0, 0, 0, 1},
		{10, 19, 10, 10},
		{5, math.MaxUint64, 5, 0},
		{5, math.MaxInt64 + 1, 5, 0},
	}

	for _, tt := range tests {
		offset, length := lockRange(&fuse.FileLock{Start: tt.start, End: tt.end})
		assert.Equal(t, tt.offset, offset, "start %d end %d", tt.start, tt.end)
		assert.Equal(t, tt.length, length, "start %d end %d", tt.start, tt.end)
	}
}

func TestUnixMode(t *testing.T) {
	assert.Equal(t, uint32(syscall.S_IFREG|0o644), unixMode(0o644))
	assert.Equal(t, uint32(syscall.S_IFDIR|0o755), unixMode(os.ModeDir|0o755))
	assert.Equal(t, uint32(syscall.S_IFREG|syscall.S_ISUID|0o755), unixMode(os.ModeSetuid|0o755))
	assert.Equal(t, uint32(syscall.S_IFDIR|syscall.S_ISVTX|0o777), unixMode(os.ModeDir|os.ModeSticky|0o777))
}

func TestFakeInoStable(t *testing.T) {
	assert.Equal(t, fakeIno("/a/b"), fakeIno("/a/b"))
	assert.NotEqual(t, fakeIno("/a/b"), fakeIno("/a/c"))
}
