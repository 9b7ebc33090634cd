//go:build linux

package layfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const xattrName = "user.layfs"

var metadataEncoding = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type xattrStore struct{}

// NewXattrStore returns a MetadataStore keeping a CBOR record in the
// user.layfs extended attribute. On filesystems without user xattrs it
// stores nothing and attributes fall back to what the mode expresses.
func NewXattrStore() MetadataStore {
	return xattrStore{}
}

func (xattrStore) Load(path string) (Metadata, bool, error) {
	buf := make([]byte, 128)
	n, err := unix.Getxattr(path, xattrName, buf)
	if errors.Is(err, unix.ERANGE) {
		if n, err = unix.Getxattr(path, xattrName, nil); err == nil {
			buf = make([]byte, n)
			n, err = unix.Getxattr(path, xattrName, buf)
		}
	}
	switch {
	case errors.Is(err, unix.ENODATA), errors.Is(err, unix.ENOTSUP):
		return Metadata{}, false, nil
	case err != nil:
		return Metadata{}, false, &os.PathError{Op: "getxattr", Path: path, Err: err}
	}

	var md Metadata
	if err := cbor.Unmarshal(buf[:n], &md); err != nil {
		return Metadata{}, false, fmt.Errorf("decode metadata of %s: %w", path, err)
	}
	return md, true, nil
}

func (xattrStore) Save(path string, md Metadata) error {
	data, err := metadataEncoding.Marshal(md)
	if err != nil {
		return err
	}
	err = unix.Setxattr(path, xattrName, data, 0)
	if errors.Is(err, unix.ENOTSUP) {
		return nil
	}
	if err != nil {
		return &os.PathError{Op: "setxattr", Path: path, Err: err}
	}
	return nil
}

func accessTime(info fs.FileInfo) (time.Time, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)), true
}

func birthTime(path string) (time.Time, bool) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true
}

func ownerOf(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

// lockRange takes or drops an open-file-description lock, so two handles of
// the same process conflict the way two openers on the host would.
func lockRange(f afero.File, offset, length int64, exclusive, lock bool) error {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return ErrUnimplemented
	}
	lk := unix.Flock_t{
		Type:   unix.F_RDLCK,
		Whence: io.SeekStart,
		Start:  offset,
		Len:    length,
	}
	switch {
	case !lock:
		lk.Type = unix.F_UNLCK
	case exclusive:
		lk.Type = unix.F_WRLCK
	}
	return unix.FcntlFlock(fd.Fd(), unix.F_OFD_SETLK, &lk)
}

func volumeSpace(path string) (FreeSpace, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FreeSpace{}, &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	bsize := uint64(st.Bsize)
	return FreeSpace{
		FreeBytesAvailable: st.Bavail * bsize,
		TotalBytes:         st.Blocks * bsize,
		TotalFreeBytes:     st.Bfree * bsize,
	}, nil
}

// publish moves tmp to final unless final already exists, in which case it
// returns an error matching fs.ErrExist and leaves tmp in place.
func publish(tmp, final string) error {
	err := unix.Renameat2(unix.AT_FDCWD, tmp, unix.AT_FDCWD, final, unix.RENAME_NOREPLACE)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOSYS) {
		return &os.LinkError{Op: "rename", Old: tmp, New: final, Err: err}
	}

	if err := os.Link(tmp, final); err != nil {
		return err
	}
	return os.Remove(tmp)
}
