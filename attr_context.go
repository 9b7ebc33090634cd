package layfs

import "os"

// AttributesContext serves opens that only query metadata. It owns no
// handle and cannot modify anything.
type AttributesContext struct {
	m        *Mount
	path     string
	physical string
	layer    *Layer
	isDir    bool
}

func (m *Mount) newAttributesContext(vpath, physical string, layer *Layer, isDir bool) *AttributesContext {
	return &AttributesContext{
		m:        m,
		path:     vpath,
		physical: physical,
		layer:    layer,
		isDir:    isDir,
	}
}

func (c *AttributesContext) sealed() {}

func (c *AttributesContext) Path() string   { return c.path }
func (c *AttributesContext) Writable() bool { return false }

// IsDir reports whether the entry was a directory at open time
func (c *AttributesContext) IsDir() bool { return c.isDir }

func (c *AttributesContext) stat() (os.FileInfo, error) {
	return c.layer.fs.Stat(c.physical)
}

func (c *AttributesContext) Info() (EntryInfo, error) {
	info, err := c.stat()
	if err != nil {
		return EntryInfo{}, err
	}
	return c.m.entryInfo(baseName(c.path), c.physical, info), nil
}

func (c *AttributesContext) Security() (SecurityDescriptor, error) {
	info, err := c.stat()
	if err != nil {
		return SecurityDescriptor{}, err
	}
	return securityOf(info), nil
}

func (c *AttributesContext) SetSecurity(SecurityDescriptor) error {
	return newError("setsecurity", c.path, StatusUnimplemented, nil)
}

func (c *AttributesContext) SetAttributes(FileAttributes) error {
	return newError("setattributes", c.path, StatusUnimplemented, nil)
}

func (c *AttributesContext) SetTimestamps(Timestamps) error {
	return newError("settimestamps", c.path, StatusUnimplemented, nil)
}

func (c *AttributesContext) Delete() error {
	return newError("delete", c.path, StatusUnimplemented, nil)
}

func (c *AttributesContext) Dispose() error { return nil }
