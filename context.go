package layfs

import (
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context is the per-open state produced by CreateOrOpen and consumed by every
// later operation on the handle until Close. The set of implementations is
// closed: *FileContext, *DirectoryContext and *AttributesContext.
type Context interface {
	// Path returns the virtual path the context was opened for.
	Path() string
	// Writable reports whether the context refers to the overlay layer.
	// It is fixed when the context is created.
	Writable() bool

	Info() (EntryInfo, error)
	Security() (SecurityDescriptor, error)
	SetSecurity(sd SecurityDescriptor) error
	SetAttributes(attrs FileAttributes) error
	SetTimestamps(ts Timestamps) error
	// Delete marks the entry for removal when its last context is released.
	Delete() error
	// Dispose releases every OS resource held by the context. It is idempotent.
	Dispose() error

	sealed()
}

var (
	_ Context = (*FileContext)(nil)
	_ Context = (*DirectoryContext)(nil)
	_ Context = (*AttributesContext)(nil)
)

// Handle is the object the driver host keeps in its per-open slot
type Handle struct {
	ID  uuid.UUID
	ctx Context
	log logrus.FieldLogger

	closed atomic.Bool
}

func (m *Mount) newHandle(ctx Context) *Handle {
	id := uuid.New()
	return &Handle{
		ID:  id,
		ctx: ctx,
		log: m.log.WithFields(logrus.Fields{
			"handle": id.String(),
			"path":   ctx.Path(),
		}),
	}
}

// Context returns the context populated by CreateOrOpen
func (h *Handle) Context() Context {
	return h.ctx
}

// securityOf reads the owner and permission bits of a stat result
func securityOf(info os.FileInfo) SecurityDescriptor {
	sd := SecurityDescriptor{Mode: info.Mode().Perm()}
	if uid, gid, ok := ownerOf(info); ok {
		sd.Owner, sd.Group = uid, gid
	}
	return sd
}

// applySecurity changes owner and permission bits of an overlay entry
func (m *Mount) applySecurity(physical string, sd SecurityDescriptor) error {
	info, err := m.overlay.fs.Stat(physical)
	if err != nil {
		return err
	}
	current := securityOf(info)
	if sd.Owner != current.Owner || sd.Group != current.Group {
		if err := m.overlay.fs.Chown(physical, int(sd.Owner), int(sd.Group)); err != nil {
			return err
		}
	}
	if sd.Mode.Perm() != current.Mode {
		return m.overlay.fs.Chmod(physical, sd.Mode.Perm())
	}
	return nil
}
