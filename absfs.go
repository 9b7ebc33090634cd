package layfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/absfs/absfs"
)

// absFSAdapter exposes a Mount through the absfs.Filer interface. Every call
// goes through CreateOrOpen and the handle operations.
type absFSAdapter struct {
	m *Mount
}

// Ensure absFSAdapter implements absfs.Filer interface at compile time
var _ absfs.Filer = (*absFSAdapter)(nil)

// FileSystem returns an absfs.FileSystem view of the mount. The returned
// FileSystem keeps its own working directory and adds the convenience
// methods of absfs (Open, Create, MkdirAll, RemoveAll).
//
// Example:
//
//	m, err := layfs.New("/srv/base", "/srv/overlay")
//	if err != nil {
//	    return err
//	}
//	fsys := m.FileSystem()
//	f, err := fsys.OpenFile("/etc/app.conf", os.O_RDWR, 0) // copies up
func (m *Mount) FileSystem() absfs.FileSystem {
	return absfs.ExtendFiler(&absFSAdapter{m: m})
}

// pathError translates a core error into the *os.PathError shape callers of
// an os-like API expect.
func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*os.PathError); ok {
		return err
	}
	return &os.PathError{Op: op, Path: name, Err: fsError(err)}
}

// fsError maps a core error onto the io/fs and errno values os callers test
// for. Errors without such a counterpart are returned unchanged.
func fsError(err error) error {
	target := err
	switch Classify(err) {
	case StatusNotFound, StatusPathNotFound:
		target = fs.ErrNotExist
	case StatusAlreadyExists, StatusFileExists:
		target = fs.ErrExist
	case StatusIsADirectory:
		target = syscall.EISDIR
	case StatusNotADirectory:
		target = syscall.ENOTDIR
	case StatusAccessDenied:
		if errors.Is(err, ErrNotEmpty) {
			target = syscall.ENOTEMPTY
		} else {
			target = fs.ErrPermission
		}
	}
	return target
}

// openRequest translates os.OpenFile flags into an open request
func openRequest(name string, flag int, perm os.FileMode) OpenRequest {
	req := OpenRequest{
		Path:        name,
		Access:      AccessReadData,
		Disposition: Open,
		Perm:        perm,
	}
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_TRUNC) != 0 {
		req.Access = AccessWriteData
	}

	switch {
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		req.Disposition = CreateNew
	case flag&os.O_CREATE != 0 && flag&os.O_TRUNC != 0:
		req.Disposition = Create
	case flag&os.O_CREATE != 0:
		req.Disposition = OpenOrCreate
	case flag&os.O_TRUNC != 0:
		req.Disposition = Truncate
	}
	return req
}

// OpenFile implements absfs.Filer
func (a *absFSAdapter) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	req := openRequest(name, flag, perm)
	h, err := a.m.CreateOrOpen(req)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	switch ctx := h.Context().(type) {
	case *FileContext:
		return &file{m: a.m, h: h, name: name, append: flag&os.O_APPEND != 0}, nil
	case *DirectoryContext:
		if req.Access == AccessWriteData {
			a.m.Close(h)
			return nil, pathError("open", name, syscall.EISDIR)
		}
		return newMergedDir(a.m, h, name), nil
	default:
		a.m.Close(h)
		return nil, pathError("open", name, newError("open", ctx.Path(), StatusUnsuccessful, nil))
	}
}

// Mkdir implements absfs.Filer
func (a *absFSAdapter) Mkdir(name string, perm os.FileMode) error {
	h, err := a.m.CreateOrOpen(OpenRequest{
		Path:        name,
		Disposition: CreateNew,
		Directory:   true,
		Perm:        perm,
	})
	if err != nil {
		return pathError("mkdir", name, err)
	}
	return pathError("mkdir", name, a.m.Close(h))
}

// Remove implements absfs.Filer. The entry is removed when the handle used
// for the request is released, or later if other handles are still open.
func (a *absFSAdapter) Remove(name string) error {
	h, err := a.m.CreateOrOpen(OpenRequest{
		Path:        name,
		Access:      AccessReadData,
		Disposition: Open,
	})
	if err != nil {
		return pathError("remove", name, err)
	}
	if err := a.m.Delete(h); err != nil {
		a.m.Close(h)
		return pathError("remove", name, err)
	}
	return pathError("remove", name, a.m.Close(h))
}

// Rename implements absfs.Filer
func (a *absFSAdapter) Rename(oldpath, newpath string) error {
	if err := a.m.Rename(oldpath, newpath, true); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fsError(err)}
	}
	return nil
}

// withHandle opens name, runs fn and releases the handle
func (a *absFSAdapter) withHandle(op, name string, access Access, fn func(h *Handle) error) error {
	h, err := a.m.CreateOrOpen(OpenRequest{Path: name, Access: access, Disposition: Open})
	if err != nil {
		return pathError(op, name, err)
	}
	err = fn(h)
	if cerr := a.m.Close(h); err == nil {
		err = cerr
	}
	return pathError(op, name, err)
}

// Stat implements absfs.Filer
func (a *absFSAdapter) Stat(name string) (os.FileInfo, error) {
	var info os.FileInfo
	err := a.withHandle("stat", name, AccessReadAttributes, func(h *Handle) error {
		e, err := a.m.GetEntryInfo(h)
		if err != nil {
			return err
		}
		if e.Name == "" {
			e.Name = "/"
		}
		info = newFileInfo(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Chmod implements absfs.Filer. Base files are copied up first.
func (a *absFSAdapter) Chmod(name string, mode os.FileMode) error {
	return a.withHandle("chmod", name, AccessWriteData, func(h *Handle) error {
		sd, err := a.m.GetSecurity(h)
		if err != nil {
			return err
		}
		sd.Mode = mode.Perm()
		return a.m.SetSecurity(h, sd)
	})
}

// Chtimes implements absfs.Filer
func (a *absFSAdapter) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.withHandle("chtimes", name, AccessWriteData, func(h *Handle) error {
		return a.m.SetTimestamps(h, Timestamps{Accessed: atime, Written: mtime})
	})
}

// Chown implements absfs.Filer
func (a *absFSAdapter) Chown(name string, uid, gid int) error {
	return a.withHandle("chown", name, AccessWriteData, func(h *Handle) error {
		sd, err := a.m.GetSecurity(h)
		if err != nil {
			return err
		}
		sd.Owner, sd.Group = uint32(uid), uint32(gid)
		return a.m.SetSecurity(h, sd)
	})
}

// Truncate changes the size of the named file
func (a *absFSAdapter) Truncate(name string, size int64) error {
	return a.withHandle("truncate", name, AccessWriteData, func(h *Handle) error {
		return a.m.SetEndOfFile(h, size)
	})
}

// ReadDir reads the named directory and returns the merged entries sorted by
// name.
func (a *absFSAdapter) ReadDir(name string) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	err := a.withHandle("readdir", name, AccessReadData, func(h *Handle) error {
		list, err := a.m.ListEntries(h, "")
		if err != nil {
			return err
		}
		entries = make([]fs.DirEntry, len(list))
		for i, e := range list {
			entries[i] = fs.FileInfoToDirEntry(newFileInfo(e))
		}
		return nil
	})
	return entries, err
}

// ReadFile reads the named file and returns its contents
func (a *absFSAdapter) ReadFile(name string) ([]byte, error) {
	var data []byte
	err := a.withHandle("read", name, AccessReadData, func(h *Handle) error {
		e, err := a.m.GetEntryInfo(h)
		if err != nil {
			return err
		}
		if e.IsDir() {
			return newError("read", name, StatusIsADirectory, nil)
		}

		data = make([]byte, 0, e.Size)
		buf := make([]byte, a.m.copyBufferSize)
		var off int64
		for {
			n, err := a.m.Read(h, buf, off)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			data = append(data, buf[:n]...)
			off += int64(n)
		}
	})
	return data, err
}

// Sub returns an fs.FS rooted at dir
func (a *absFSAdapter) Sub(dir string) (fs.FS, error) {
	return absfs.FilerToFS(a, cleanPath(dir))
}

// Separator returns the path separator (always forward slash for virtual paths)
func (a *absFSAdapter) Separator() uint8 {
	return '/'
}

// ListSeparator returns the path list separator (always colon for virtual paths)
func (a *absFSAdapter) ListSeparator() uint8 {
	return ':'
}

// file is a regular file of the absfs view. It keeps the stream position
// the os-like API needs on top of the offset-addressed handle operations.
type file struct {
	m      *Mount
	h      *Handle
	name   string
	append bool

	mu     sync.Mutex
	offset int64
	closed bool
}

func (f *file) Name() string { return f.name }

func (f *file) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.m.Read(f.h, p, f.offset)
	f.offset += int64(n)
	if err != nil {
		return n, pathError("read", f.name, err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.m.Read(f.h, p, off)
	if err != nil {
		return n, pathError("read", f.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.append {
		e, err := f.m.GetEntryInfo(f.h)
		if err != nil {
			return 0, pathError("write", f.name, err)
		}
		f.offset = e.Size
	}
	n, err := f.m.Write(f.h, p, f.offset)
	f.offset += int64(n)
	return n, pathError("write", f.name, err)
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.m.Write(f.h, p, off)
	return n, pathError("write", f.name, err)
}

func (f *file) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		e, err := f.m.GetEntryInfo(f.h)
		if err != nil {
			return 0, pathError("seek", f.name, err)
		}
		base = e.Size
	default:
		return 0, pathError("seek", f.name, os.ErrInvalid)
	}
	if base+offset < 0 {
		return 0, pathError("seek", f.name, os.ErrInvalid)
	}
	f.offset = base + offset
	return f.offset, nil
}

func (f *file) Stat() (os.FileInfo, error) {
	e, err := f.m.GetEntryInfo(f.h)
	if err != nil {
		return nil, pathError("stat", f.name, err)
	}
	return newFileInfo(e), nil
}

func (f *file) Sync() error {
	return pathError("sync", f.name, f.m.Flush(f.h))
}

func (f *file) Truncate(size int64) error {
	return pathError("truncate", f.name, f.m.SetEndOfFile(f.h, size))
}

func (f *file) Readdir(int) ([]os.FileInfo, error) {
	return nil, pathError("readdir", f.name, syscall.ENOTDIR)
}

func (f *file) Readdirnames(int) ([]string, error) {
	return nil, pathError("readdir", f.name, syscall.ENOTDIR)
}

func (f *file) ReadDir(int) ([]fs.DirEntry, error) {
	return nil, pathError("readdir", f.name, syscall.ENOTDIR)
}

func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return pathError("close", f.name, os.ErrClosed)
	}
	f.closed = true
	return pathError("close", f.name, f.m.Close(f.h))
}

// fileInfo adapts an EntryInfo to fs.FileInfo
type fileInfo struct {
	e EntryInfo
}

func newFileInfo(e EntryInfo) fileInfo {
	return fileInfo{e: e}
}

func (fi fileInfo) Name() string       { return fi.e.Name }
func (fi fileInfo) Size() int64        { return fi.e.Size }
func (fi fileInfo) Mode() os.FileMode  { return fi.e.Mode }
func (fi fileInfo) ModTime() time.Time { return fi.e.Written }
func (fi fileInfo) IsDir() bool        { return fi.e.IsDir() }

// Sys returns the EntryInfo the value was built from
func (fi fileInfo) Sys() any { return fi.e }
