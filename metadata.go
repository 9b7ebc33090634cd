package layfs

import (
	"io/fs"
	"os"
	"time"

	"go.uber.org/multierr"
)

// FileAttributes is the attribute bitmask exchanged with the driver host. The
// values follow the host filesystem convention.
type FileAttributes uint32

const (
	AttrReadOnly  FileAttributes = 0x00000001
	AttrHidden    FileAttributes = 0x00000002
	AttrSystem    FileAttributes = 0x00000004
	AttrDirectory FileAttributes = 0x00000010
	AttrArchive   FileAttributes = 0x00000020
	AttrNormal    FileAttributes = 0x00000080

	// attributes derived from the POSIX mode, never persisted
	derivedAttrs = AttrReadOnly | AttrDirectory | AttrNormal
)

// Has reports whether all bits of a are set
func (f FileAttributes) Has(a FileAttributes) bool {
	return f&a == a
}

// Timestamps carries the three host-visible times. A zero field means
// "leave unchanged" when used as input.
type Timestamps struct {
	Created  time.Time
	Accessed time.Time
	Written  time.Time
}

// EntryInfo describes one directory entry or open object
type EntryInfo struct {
	Name       string
	Attributes FileAttributes
	Timestamps
	Size int64
	Mode os.FileMode
}

// IsDir reports whether the entry is a directory
func (e EntryInfo) IsDir() bool {
	return e.Mode.IsDir()
}

// SecurityDescriptor is the owner and permission set of an entry
type SecurityDescriptor struct {
	Owner uint32
	Group uint32
	Mode  os.FileMode
}

// Metadata is what a MetadataStore persists beside a physical entry
type Metadata struct {
	Attributes FileAttributes `cbor:"1,keyasint,omitempty"`
	Created    time.Time      `cbor:"2,keyasint,omitempty"`
}

// MetadataStore persists attributes and creation times that a POSIX
// directory tree cannot carry natively. It addresses physical paths.
type MetadataStore interface {
	// Load returns the stored record; ok is false when none exists.
	Load(path string) (md Metadata, ok bool, err error)
	Save(path string, md Metadata) error
}

// loadMetadata reads the persisted record for physical, ignoring stores that
// have nothing or cannot reach the entry anymore.
func (m *Mount) loadMetadata(physical string) Metadata {
	md, ok, err := m.meta.Load(physical)
	if err != nil {
		m.log.WithField("physical", physical).WithError(err).Debug("Failed to load metadata")
		return Metadata{}
	}
	if !ok {
		return Metadata{}
	}
	return md
}

// updateMetadata applies fn to the stored record of physical and saves it
func (m *Mount) updateMetadata(physical string, fn func(*Metadata)) error {
	md, _, err := m.meta.Load(physical)
	if err != nil {
		return err
	}
	fn(&md)
	return m.meta.Save(physical, md)
}

// entryInfo builds the host view of a physical entry
func (m *Mount) entryInfo(name, physical string, info fs.FileInfo) EntryInfo {
	md := m.loadMetadata(physical)

	attrs := md.Attributes &^ derivedAttrs
	if info.IsDir() {
		attrs |= AttrDirectory
	}
	if info.Mode().Perm()&0o200 == 0 {
		attrs |= AttrReadOnly
	}
	if attrs == 0 {
		attrs = AttrNormal
	}

	e := EntryInfo{
		Name:       name,
		Attributes: attrs,
		Mode:       info.Mode(),
	}
	if !info.IsDir() {
		e.Size = info.Size()
	}

	e.Written = info.ModTime()
	e.Accessed = e.Written
	if atime, ok := accessTime(info); ok {
		e.Accessed = atime
	}
	e.Created = creationTime(physical, md, info)
	return e
}

// creationTime returns the creation time the host sees for physical: the
// stored one, else the birth time, else the write time.
func creationTime(physical string, md Metadata, info fs.FileInfo) time.Time {
	if !md.Created.IsZero() {
		return md.Created
	}
	if btime, ok := birthTime(physical); ok {
		return btime
	}
	return info.ModTime()
}

// applyAttributes persists attrs on physical. ReadOnly toggles the owner
// write bit; the remaining bits go to the metadata store.
func (m *Mount) applyAttributes(physical string, attrs FileAttributes) error {
	if attrs == 0 {
		return nil
	}
	info, err := m.overlay.fs.Stat(physical)
	if err != nil {
		return err
	}

	perm := info.Mode().Perm()
	if attrs.Has(AttrReadOnly) {
		perm &^= 0o222
	} else if perm&0o200 == 0 {
		perm |= 0o200
	}
	return m.updateMetadataAs(physical, info.Mode().Perm(), perm, func(md *Metadata) {
		md.Attributes = attrs &^ derivedAttrs
	})
}

// applyTimestamps sets the non-zero fields of ts on physical
func (m *Mount) applyTimestamps(physical string, ts Timestamps) error {
	if !ts.Accessed.IsZero() || !ts.Written.IsZero() {
		if err := m.overlay.fs.Chtimes(physical, ts.Accessed, ts.Written); err != nil {
			return err
		}
	}
	if ts.Created.IsZero() {
		return nil
	}
	info, err := m.overlay.fs.Stat(physical)
	if err != nil {
		return err
	}
	return m.updateMetadataAs(physical, info.Mode().Perm(), info.Mode().Perm(), func(md *Metadata) {
		md.Created = ts.Created
	})
}

// updateMetadataAs updates the record of physical and leaves the entry with
// permission bits perm. Extended attributes can only be written while the
// owner write bit is set, so a read-only entry gains it for the update.
func (m *Mount) updateMetadataAs(physical string, orig, perm os.FileMode, fn func(*Metadata)) error {
	granted := orig
	if orig&0o200 == 0 {
		granted |= 0o200
		if err := m.overlay.fs.Chmod(physical, granted); err != nil {
			return err
		}
	}

	if err := m.updateMetadata(physical, fn); err != nil {
		if granted != orig {
			err = multierr.Append(err, m.overlay.fs.Chmod(physical, orig))
		}
		return err
	}
	if perm == granted {
		return nil
	}
	return m.overlay.fs.Chmod(physical, perm)
}
