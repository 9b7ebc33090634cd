package layfs

import (
	"os"
	"sync"
)

// DirectoryContext refers to a directory present in one or both layers. It
// holds no OS handle; listings are produced fresh by ListEntries.
type DirectoryContext struct {
	m    *Mount
	path string

	// overlayPath and basePath are empty when the directory is absent from
	// that layer at open time.
	overlayPath string
	basePath    string

	mu       sync.Mutex
	disposed bool
}

func (m *Mount) newDirectoryContext(res Resolution) *DirectoryContext {
	c := &DirectoryContext{m: m, path: res.Path}
	if res.OverlayExists && res.OverlayIsDir {
		c.overlayPath = res.OverlayPath
		m.dispositions.acquire(c.overlayPath, true)
	}
	if res.BaseExists && res.BaseIsDir {
		c.basePath = res.BasePath
	}
	return c
}

func (c *DirectoryContext) sealed() {}

func (c *DirectoryContext) Path() string   { return c.path }
func (c *DirectoryContext) Writable() bool { return c.overlayPath != "" }

// InOverlay reports whether the directory has an overlay side
func (c *DirectoryContext) InOverlay() bool { return c.overlayPath != "" }

// InBase reports whether the directory has a base side
func (c *DirectoryContext) InBase() bool { return c.basePath != "" }

// stat returns the info of the side that wins in the merged view
func (c *DirectoryContext) stat() (string, os.FileInfo, error) {
	if c.overlayPath != "" {
		info, err := c.m.overlay.fs.Stat(c.overlayPath)
		return c.overlayPath, info, err
	}
	info, err := c.m.base.fs.Stat(c.basePath)
	return c.basePath, info, err
}

func (c *DirectoryContext) Info() (EntryInfo, error) {
	physical, info, err := c.stat()
	if err != nil {
		return EntryInfo{}, err
	}
	return c.m.entryInfo(baseName(c.path), physical, info), nil
}

func (c *DirectoryContext) Security() (SecurityDescriptor, error) {
	_, info, err := c.stat()
	if err != nil {
		return SecurityDescriptor{}, err
	}
	return securityOf(info), nil
}

func (c *DirectoryContext) SetSecurity(sd SecurityDescriptor) error {
	if c.overlayPath == "" {
		return newError("setsecurity", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applySecurity(c.overlayPath, sd)
}

func (c *DirectoryContext) SetAttributes(attrs FileAttributes) error {
	if c.overlayPath == "" {
		return newError("setattributes", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applyAttributes(c.overlayPath, attrs)
}

func (c *DirectoryContext) SetTimestamps(ts Timestamps) error {
	if c.overlayPath == "" {
		return newError("settimestamps", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	return c.m.applyTimestamps(c.overlayPath, ts)
}

// Delete marks the overlay side of the directory for removal. The merged
// listing must be empty. A base side, if any, stays visible afterwards.
func (c *DirectoryContext) Delete() error {
	if c.overlayPath == "" {
		return newError("delete", c.path, StatusAccessDenied, errReadOnlyLayer)
	}
	if c.path == "/" {
		return newError("delete", c.path, StatusAccessDenied, nil)
	}
	entries, err := c.m.mergeEntries(c.overlayPath, c.basePath, "")
	if err != nil {
		return err
	}
	if entries.Len() > 0 {
		return newError("delete", c.path, StatusAccessDenied, ErrNotEmpty)
	}
	c.m.dispositions.markDelete(c.overlayPath)
	return nil
}

func (c *DirectoryContext) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil
	}
	c.disposed = true
	if c.overlayPath == "" {
		return nil
	}
	return c.m.dispositions.release(c.overlayPath, c.m.removeEntry)
}
