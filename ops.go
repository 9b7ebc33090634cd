package layfs

import (
	"errors"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// FreeSpace is the capacity of the overlay volume
type FreeSpace struct {
	FreeBytesAvailable uint64
	TotalBytes         uint64
	TotalFreeBytes     uint64
}

// VolumeFeatures is the feature bitmask reported by GetVolumeInfo
type VolumeFeatures uint32

const (
	CaseSensitiveSearch   VolumeFeatures = 0x00000001
	CasePreservedNames    VolumeFeatures = 0x00000002
	UnicodeOnDisk         VolumeFeatures = 0x00000004
	PersistentACLs        VolumeFeatures = 0x00000008
	SupportsRemoteStorage VolumeFeatures = 0x00000100
)

// VolumeInfo is the static description of the mounted volume
type VolumeInfo struct {
	Label              string
	FileSystemName     string
	MaxComponentLength uint32
	Features           VolumeFeatures
}

const (
	fileSystemName     = "layfs"
	maxComponentLength = 255
)

var (
	errAttributesOnly = errors.New("handle opened for attributes only")
	errTargetIsDir    = errors.New("target is a directory in the overlay")
)

func (m *Mount) context(h *Handle) (Context, error) {
	if h == nil || h.ctx == nil || h.closed.Load() {
		return nil, ErrInvalidHandle
	}
	return h.ctx, nil
}

// fileContext returns the file context of h or the status that matches what
// the handle actually refers to.
func (m *Mount) fileContext(op string, h *Handle) (*FileContext, error) {
	ctx, err := m.context(h)
	if err != nil {
		return nil, err
	}
	switch c := ctx.(type) {
	case *FileContext:
		return c, nil
	case *DirectoryContext:
		return nil, newError(op, c.path, StatusIsADirectory, nil)
	case *AttributesContext:
		if c.isDir {
			return nil, newError(op, c.path, StatusIsADirectory, nil)
		}
		return nil, newError(op, c.path, StatusAccessDenied, errAttributesOnly)
	}
	return nil, ErrInvalidHandle
}

func handlePath(h *Handle) string {
	if h == nil || h.ctx == nil {
		return ""
	}
	return h.ctx.Path()
}

// removeEntry deletes an overlay entry whose last context was released
func (m *Mount) removeEntry(physical string, isDir bool) error {
	err := m.overlay.fs.Remove(physical)
	if err != nil && !os.IsNotExist(err) {
		m.log.WithFields(logrus.Fields{
			"physical": physical,
			"dir":      isDir,
		}).WithError(err).Warn("Deferred delete failed")
		return err
	}
	m.dropMetadata(physical)
	m.log.WithField("physical", physical).Debug("Deferred delete applied")
	return nil
}

// Cleanup runs when the host drops its last reference to an open. With
// deleteOnClose it marks the entry for removal before releasing the context.
func (m *Mount) Cleanup(h *Handle, deleteOnClose bool) error {
	ctx, err := m.context(h)
	if err != nil {
		return m.fail("cleanup", handlePath(h), err)
	}

	if deleteOnClose {
		err = ctx.Delete()
		if err != nil {
			h.log.WithError(err).Debug("Delete-on-close refused")
		}
	}
	err = multierr.Append(err, ctx.Dispose())
	return m.fail("cleanup", ctx.Path(), err)
}

// Close releases every resource of the handle. Closing twice is a no-op.
func (m *Mount) Close(h *Handle) error {
	if h == nil || h.ctx == nil {
		return nil
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.fail("close", h.ctx.Path(), h.ctx.Dispose())
}

// Read reads into buf from off and returns the exact count transferred
func (m *Mount) Read(h *Handle, buf []byte, off int64) (int, error) {
	fc, err := m.fileContext("read", h)
	if err != nil {
		return 0, m.fail("read", handlePath(h), err)
	}
	n, err := fc.ReadAt(buf, off)
	return n, m.fail("read", fc.path, err)
}

// Write writes buf at off and returns the exact count transferred
func (m *Mount) Write(h *Handle, buf []byte, off int64) (int, error) {
	fc, err := m.fileContext("write", h)
	if err != nil {
		return 0, m.fail("write", handlePath(h), err)
	}
	if !fc.writable {
		return 0, m.fail("write", fc.path, newError("write", fc.path, StatusAccessDenied, errReadOnlyLayer))
	}
	n, err := fc.WriteAt(buf, off)
	return n, m.fail("write", fc.path, err)
}

// Flush commits buffered data and metadata of a file to storage. Storage
// failures surface as DiskFull when the volume is out of space and as
// IOFailure otherwise.
func (m *Mount) Flush(h *Handle) error {
	fc, err := m.fileContext("flush", h)
	if err != nil {
		return m.fail("flush", handlePath(h), err)
	}
	err = fc.Flush()
	if err == nil {
		return nil
	}
	if Classify(err) != StatusDiskFull && !errors.Is(err, ErrInvalidHandle) {
		err = newError("flush", fc.path, StatusIOFailure, err)
	}
	return m.fail("flush", fc.path, err)
}

// GetEntryInfo describes the entry behind h
func (m *Mount) GetEntryInfo(h *Handle) (EntryInfo, error) {
	ctx, err := m.context(h)
	if err != nil {
		return EntryInfo{}, m.fail("getinfo", handlePath(h), err)
	}
	info, err := ctx.Info()
	if err != nil {
		return EntryInfo{}, m.fail("getinfo", ctx.Path(), err)
	}
	return info, nil
}

func (m *Mount) GetSecurity(h *Handle) (SecurityDescriptor, error) {
	ctx, err := m.context(h)
	if err != nil {
		return SecurityDescriptor{}, m.fail("getsecurity", handlePath(h), err)
	}
	sd, err := ctx.Security()
	if err != nil {
		return SecurityDescriptor{}, m.fail("getsecurity", ctx.Path(), err)
	}
	return sd, nil
}

func (m *Mount) SetSecurity(h *Handle, sd SecurityDescriptor) error {
	ctx, err := m.context(h)
	if err != nil {
		return m.fail("setsecurity", handlePath(h), err)
	}
	return m.fail("setsecurity", ctx.Path(), ctx.SetSecurity(sd))
}

// SetAttributes replaces the attributes of the entry. Zero leaves them
// unchanged.
func (m *Mount) SetAttributes(h *Handle, attrs FileAttributes) error {
	ctx, err := m.context(h)
	if err != nil {
		return m.fail("setattributes", handlePath(h), err)
	}
	if attrs == 0 {
		return nil
	}
	return m.fail("setattributes", ctx.Path(), ctx.SetAttributes(attrs))
}

func (m *Mount) SetTimestamps(h *Handle, ts Timestamps) error {
	ctx, err := m.context(h)
	if err != nil {
		return m.fail("settimestamps", handlePath(h), err)
	}
	return m.fail("settimestamps", ctx.Path(), ctx.SetTimestamps(ts))
}

// Delete marks the entry of h for removal once every context on it is
// released. Only overlay entries can be deleted; a base entry of the same
// name becomes visible again afterwards.
func (m *Mount) Delete(h *Handle) error {
	ctx, err := m.context(h)
	if err != nil {
		return m.fail("delete", handlePath(h), err)
	}
	return m.fail("delete", ctx.Path(), ctx.Delete())
}

// Rename moves an overlay entry. Entries that exist only in the base layer
// cannot be renamed.
func (m *Mount) Rename(oldPath, newPath string, replace bool) error {
	oldPath, newPath = cleanPath(oldPath), cleanPath(newPath)
	return m.fail("rename", oldPath, m.rename(oldPath, newPath, replace))
}

func (m *Mount) rename(oldPath, newPath string, replace bool) error {
	if oldPath == "/" || newPath == "/" {
		return newError("rename", oldPath, StatusAccessDenied, nil)
	}

	src, err := m.resolver.Resolve(oldPath)
	if err != nil {
		return err
	}
	dst, err := m.resolver.Resolve(newPath)
	if err != nil {
		return err
	}

	if dst.Exists() {
		if !replace {
			return newError("rename", newPath, StatusFileExists, nil)
		}
		if dst.OverlayExists && dst.OverlayIsDir {
			return newError("rename", newPath, StatusAccessDenied, errTargetIsDir)
		}
	}
	if !src.OverlayExists {
		if !src.BaseExists {
			return newError("rename", oldPath, StatusNotFound, nil)
		}
		return newError("rename", oldPath, StatusAccessDenied, errReadOnlyLayer)
	}

	if err := m.requireParent(newPath); err != nil {
		return err
	}
	if err := m.ensureDir(newPath); err != nil {
		return err
	}
	if err := m.overlay.fs.Rename(src.OverlayPath, dst.OverlayPath); err != nil {
		return err
	}
	m.moveMetadata(src.OverlayPath, dst.OverlayPath)

	m.log.WithFields(logrus.Fields{
		"from": oldPath,
		"to":   newPath,
	}).Debug("Renamed")
	return nil
}

// LockByteRange locks a region of an open file. A conflicting lock is
// reported as AccessDenied.
func (m *Mount) LockByteRange(h *Handle, offset, length int64) error {
	fc, err := m.fileContext("lock", h)
	if err != nil {
		return m.fail("lock", handlePath(h), err)
	}
	return m.fail("lock", fc.path, lockError("lock", fc.path, fc.Lock(offset, length)))
}

func (m *Mount) UnlockByteRange(h *Handle, offset, length int64) error {
	fc, err := m.fileContext("unlock", h)
	if err != nil {
		return m.fail("unlock", handlePath(h), err)
	}
	return m.fail("unlock", fc.path, lockError("unlock", fc.path, fc.Unlock(offset, length)))
}

func lockError(op, vpath string, err error) error {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EACCES) {
		return newError(op, vpath, StatusAccessDenied, err)
	}
	return err
}

// SetEndOfFile truncates or extends a writable file to length
func (m *Mount) SetEndOfFile(h *Handle, length int64) error {
	fc, err := m.fileContext("setendoffile", h)
	if err != nil {
		return m.fail("setendoffile", handlePath(h), err)
	}
	if !fc.writable {
		return m.fail("setendoffile", fc.path, newError("setendoffile", fc.path, StatusAccessDenied, errReadOnlyLayer))
	}
	return m.fail("setendoffile", fc.path, fc.Truncate(length))
}

// SetAllocationSize resizes a writable file to length
func (m *Mount) SetAllocationSize(h *Handle, length int64) error {
	return m.SetEndOfFile(h, length)
}

// ListStreams enumerates alternate data streams, which are not supported
func (m *Mount) ListStreams(h *Handle) ([]EntryInfo, error) {
	return nil, newError("liststreams", handlePath(h), StatusUnimplemented, nil)
}

// GetFreeSpace reports the capacity of the volume holding the overlay
func (m *Mount) GetFreeSpace() (FreeSpace, error) {
	space, err := volumeSpace(m.overlay.root)
	if err != nil {
		return FreeSpace{}, m.fail("getfreespace", "/", err)
	}
	return space, nil
}

// GetVolumeInfo returns the static volume description
func (m *Mount) GetVolumeInfo() VolumeInfo {
	return VolumeInfo{
		Label:              m.volumeLabel,
		FileSystemName:     fileSystemName,
		MaxComponentLength: maxComponentLength,
		Features: CasePreservedNames | CaseSensitiveSearch | PersistentACLs |
			SupportsRemoteStorage | UnicodeOnDisk,
	}
}
