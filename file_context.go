package layfs

import (
	"errors"
	"io"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// FileContext owns one open OS handle to a file in exactly one layer
type FileContext struct {
	m        *Mount
	path     string
	physical string
	layer    *Layer
	writable bool
	canWrite bool

	// mu makes every transfer one atomic unit on the shared stream
	mu   sync.Mutex
	file afero.File
}

func (m *Mount) newFileContext(vpath, physical string, layer *Layer, file afero.File, canWrite bool) *FileContext {
	c := &FileContext{
		m:        m,
		path:     vpath,
		physical: physical,
		layer:    layer,
		writable: layer == m.overlay,
		canWrite: canWrite,
		file:     file,
	}
	if c.writable {
		m.dispositions.acquire(physical, false)
	}
	return c
}

func (c *FileContext) sealed() {}

func (c *FileContext) Path() string   { return c.path }
func (c *FileContext) Writable() bool { return c.writable }

// PhysicalPath returns the layer path the handle was opened against
func (c *FileContext) PhysicalPath() string { return c.physical }

// ReadAt reads up to len(p) bytes at off. A short count at end of file is not
// an error.
func (c *FileContext) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return 0, ErrInvalidHandle
	}
	n, err := c.file.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// WriteAt writes p at off and returns the count actually written
func (c *FileContext) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return 0, ErrInvalidHandle
	}
	if !c.canWrite {
		return 0, newError("write", c.path, StatusAccessDenied, errors.New("handle opened without write access"))
	}
	return c.file.WriteAt(p, off)
}

// Flush commits the file's data and metadata to storage
func (c *FileContext) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return ErrInvalidHandle
	}
	return c.file.Sync()
}

// Truncate sets the end of file
func (c *FileContext) Truncate(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return ErrInvalidHandle
	}
	if !c.canWrite {
		return newError("truncate", c.path, StatusAccessDenied, errors.New("handle opened without write access"))
	}
	return c.file.Truncate(size)
}

// Lock takes a byte-range lock on the open file
func (c *FileContext) Lock(offset, length int64) error {
	return c.lockRange(offset, length, true)
}

// Unlock releases a byte-range lock taken by Lock
func (c *FileContext) Unlock(offset, length int64) error {
	return c.lockRange(offset, length, false)
}

func (c *FileContext) lockRange(offset, length int64, lock bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return ErrInvalidHandle
	}
	return lockRange(c.file, offset, length, c.canWrite, lock)
}

func (c *FileContext) Info() (EntryInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return EntryInfo{}, ErrInvalidHandle
	}
	info, err := c.file.Stat()
	if err != nil {
		return EntryInfo{}, err
	}
	return c.m.entryInfo(baseName(c.path), c.physical, info), nil
}

func (c *FileContext) Security() (SecurityDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return SecurityDescriptor{}, ErrInvalidHandle
	}
	info, err := c.file.Stat()
	if err != nil {
		return SecurityDescriptor{}, err
	}
	return securityOf(info), nil
}

func (c *FileContext) SetSecurity(sd SecurityDescriptor) error {
	if !c.writable {
		return newError("setsecurity", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applySecurity(c.physical, sd)
}

func (c *FileContext) SetAttributes(attrs FileAttributes) error {
	if !c.writable {
		return newError("setattributes", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applyAttributes(c.physical, attrs)
}

func (c *FileContext) SetTimestamps(ts Timestamps) error {
	if !c.writable {
		return newError("settimestamps", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applyTimestamps(c.physical, ts)
}

// Delete marks the overlay file for removal. Files opened from the base layer
// cannot be deleted.
func (c *FileContext) Delete() error {
	if !c.writable {
		return newError("delete", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	c.m.dispositions.markDelete(c.physical)
	return nil
}

func (c *FileContext) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil

	if c.writable {
		err = multierr.Append(err, c.m.dispositions.release(c.physical, c.m.removeEntry))
	}
	return err
}
