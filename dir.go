package layfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/tidwall/btree"
)

// ListEntries returns the union of the overlay and base listings of a
// directory handle, ordered by name. An overlay entry shadows the base entry
// of the same name entirely.
func (m *Mount) ListEntries(h *Handle, pattern string) ([]EntryInfo, error) {
	ctx, err := m.context(h)
	if err != nil {
		return nil, m.fail("listentries", handlePath(h), err)
	}
	dc, ok := ctx.(*DirectoryContext)
	if !ok {
		return nil, m.fail("listentries", ctx.Path(), newError("listentries", ctx.Path(), StatusNotADirectory, nil))
	}

	entries, err := m.mergeEntries(dc.overlayPath, dc.basePath, pattern)
	if err != nil {
		return nil, m.fail("listentries", dc.path, err)
	}

	list := make([]EntryInfo, 0, entries.Len())
	entries.Scan(func(_ string, e EntryInfo) bool {
		list = append(list, e)
		return true
	})
	return list, nil
}

// mergeEntries collects the overlay entries first and then every base entry
// whose name is not taken yet.
func (m *Mount) mergeEntries(overlayDir, baseDir, pattern string) (*btree.Map[string, EntryInfo], error) {
	entries := btree.NewMap[string, EntryInfo](0)

	if overlayDir != "" {
		if err := m.collectEntries(entries, m.overlay, overlayDir, pattern); err != nil {
			return nil, err
		}
	}
	if baseDir != "" {
		if err := m.collectEntries(entries, m.base, baseDir, pattern); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (m *Mount) collectEntries(entries *btree.Map[string, EntryInfo], layer *Layer, dir, pattern string) error {
	infos, err := afero.ReadDir(layer.fs, dir)
	if err != nil {
		// the directory went away since the handle was opened
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, info := range infos {
		name := info.Name()
		if isCopyUpTemp(name) || !matchPattern(pattern, name) {
			continue
		}
		if _, ok := entries.Get(name); ok {
			continue
		}
		entries.Set(name, m.entryInfo(name, filepath.Join(dir, name), info))
	}
	return nil
}

// mergedDir is the directory file of the absfs view. The merged listing is
// taken once, on first read, and paged through afterwards.
type mergedDir struct {
	m       *Mount
	h       *Handle
	name    string
	entries []os.FileInfo
	offset  int
	closed  bool
}

func newMergedDir(m *Mount, h *Handle, name string) *mergedDir {
	return &mergedDir{m: m, h: h, name: name}
}

func (d *mergedDir) pathError(op string, err error) error {
	return &os.PathError{Op: op, Path: d.name, Err: err}
}

// Close closes the directory
func (d *mergedDir) Close() error {
	if d.closed {
		return d.pathError("close", os.ErrClosed)
	}
	d.closed = true
	return pathError("close", d.name, d.m.Close(d.h))
}

func (d *mergedDir) Read(p []byte) (n int, err error) {
	return 0, d.pathError("read", syscall.EISDIR)
}

func (d *mergedDir) ReadAt(p []byte, off int64) (n int, err error) {
	return 0, d.pathError("read", syscall.EISDIR)
}

func (d *mergedDir) Write(p []byte) (n int, err error) {
	return 0, d.pathError("write", syscall.EISDIR)
}

func (d *mergedDir) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, d.pathError("write", syscall.EISDIR)
}

func (d *mergedDir) WriteString(s string) (ret int, err error) {
	return 0, d.pathError("write", syscall.EISDIR)
}

// Seek seeks to an offset in the directory listing
func (d *mergedDir) Seek(offset int64, whence int) (int64, error) {
	if d.closed {
		return 0, os.ErrClosed
	}

	switch whence {
	case io.SeekStart:
		d.offset = int(offset)
	case io.SeekCurrent:
		d.offset += int(offset)
	case io.SeekEnd:
		if err := d.load(); err != nil {
			return 0, err
		}
		d.offset = len(d.entries) + int(offset)
	}

	if d.offset < 0 {
		d.offset = 0
	}
	return int64(d.offset), nil
}

// Name returns the name the directory was opened with
func (d *mergedDir) Name() string {
	return d.name
}

// Readdir reads directory entries
func (d *mergedDir) Readdir(count int) ([]os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	if err := d.load(); err != nil {
		return nil, err
	}

	if d.offset >= len(d.entries) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	end := len(d.entries)
	if count > 0 && d.offset+count < end {
		end = d.offset + count
	}

	result := d.entries[d.offset:end]
	d.offset = end
	return result, nil
}

// Readdirnames reads directory entry names
func (d *mergedDir) Readdirnames(count int) ([]string, error) {
	infos, err := d.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// ReadDir reads directory entries as fs.DirEntry values
func (d *mergedDir) ReadDir(count int) ([]fs.DirEntry, error) {
	infos, err := d.Readdir(count)
	if err != nil {
		return nil, err
	}

	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

// Stat returns the FileInfo for the directory
func (d *mergedDir) Stat() (os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	e, err := d.m.GetEntryInfo(d.h)
	if err != nil {
		return nil, pathError("stat", d.name, err)
	}
	if e.Name == "" {
		e.Name = "/"
	}
	return newFileInfo(e), nil
}

// Sync is a no-op for directories
func (d *mergedDir) Sync() error {
	return nil
}

func (d *mergedDir) Truncate(size int64) error {
	return d.pathError("truncate", syscall.EISDIR)
}

func (d *mergedDir) load() error {
	if d.entries != nil {
		return nil
	}
	list, err := d.m.ListEntries(d.h, "")
	if err != nil {
		return pathError("readdir", d.name, err)
	}

	d.entries = make([]os.FileInfo, len(list))
	for i, e := range list {
		d.entries[i] = newFileInfo(e)
	}
	return nil
}
