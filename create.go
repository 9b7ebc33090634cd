package layfs

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Access is the coarse class of rights an open requests
type Access int

const (
	// AccessReadAttributes queries metadata only
	AccessReadAttributes Access = iota
	// AccessReadData reads file content
	AccessReadData
	// AccessWriteData modifies file content or metadata
	AccessWriteData
)

func (a Access) String() string {
	switch a {
	case AccessReadAttributes:
		return "read-attributes"
	case AccessReadData:
		return "read-data"
	case AccessWriteData:
		return "write-data"
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// Disposition selects what an open does depending on whether the target exists
type Disposition int

const (
	// CreateNew creates the entry and fails if it exists
	CreateNew Disposition = iota + 1
	// Open opens the entry and fails if it does not exist
	Open
	// Create creates the entry, truncating an existing file
	Create
	// Truncate opens an existing file and truncates it
	Truncate
	// OpenOrCreate opens the entry, creating it when missing
	OpenOrCreate
)

var dispositionNames = map[Disposition]string{
	CreateNew:    "create-new",
	Open:         "open",
	Create:       "create",
	Truncate:     "truncate",
	OpenOrCreate: "open-or-create",
}

func (d Disposition) String() string {
	if name, ok := dispositionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// flags returns the os.OpenFile flags implementing d
func (d Disposition) flags() int {
	switch d {
	case CreateNew:
		return os.O_CREATE | os.O_EXCL
	case Create:
		return os.O_CREATE | os.O_TRUNC
	case Truncate:
		return os.O_TRUNC
	case OpenOrCreate:
		return os.O_CREATE
	}
	return 0
}

var errInvalidDisposition = errors.New("invalid disposition")

// OpenRequest carries the inputs of CreateOrOpen
type OpenRequest struct {
	Path        string
	Access      Access
	Disposition Disposition
	// Directory is set when the caller believes the target is a directory
	Directory bool
	// Perm is the permission of a newly created entry; zero selects 0644 for
	// files and 0755 for directories.
	Perm os.FileMode
	// Attributes are applied to a newly created entry
	Attributes FileAttributes
}

func (r OpenRequest) perm(dir bool) os.FileMode {
	if r.Perm != 0 {
		return r.Perm.Perm()
	}
	if dir {
		return 0o755
	}
	return 0o644
}

// CreateOrOpen decides the layer placement of an open, copies the file up
// when the open needs to write to a base-only file, and returns a handle
// holding the resulting context.
func (m *Mount) CreateOrOpen(req OpenRequest) (*Handle, error) {
	vpath := cleanPath(req.Path)

	ctx, err := m.createOrOpen(vpath, req)
	if err != nil {
		return nil, m.fail("create", vpath, err)
	}

	h := m.newHandle(ctx)
	h.log.WithFields(logrus.Fields{
		"disposition": req.Disposition,
		"access":      req.Access,
		"writable":    ctx.Writable(),
	}).Debug("Opened")
	return h, nil
}

func (m *Mount) createOrOpen(vpath string, req OpenRequest) (Context, error) {
	res, err := m.resolver.Resolve(vpath)
	if err != nil {
		return nil, err
	}

	if req.Directory {
		return m.openDirectory(res, req)
	}

	if res.IsDir() {
		switch req.Disposition {
		case Create, Truncate:
			return nil, newError("open", vpath, StatusIsADirectory, nil)
		case OpenOrCreate:
			req.Disposition = Open
		}
		req.Directory = true
		return m.openDirectory(res, req)
	}

	if req.Access == AccessReadAttributes && res.Exists() &&
		(req.Disposition == Open || req.Disposition == OpenOrCreate) {
		if res.OverlayExists {
			return m.newAttributesContext(vpath, res.OverlayPath, m.overlay, false), nil
		}
		return m.newAttributesContext(vpath, res.BasePath, m.base, false), nil
	}

	return m.openFile(res, req)
}

// openDirectory handles opens of a directory target
func (m *Mount) openDirectory(res Resolution, req OpenRequest) (Context, error) {
	switch req.Disposition {
	case CreateNew:
		switch {
		case res.OverlayExists && res.OverlayIsDir, res.BaseExists && res.BaseIsDir:
			return nil, newError("mkdir", res.Path, StatusFileExists, nil)
		case res.Exists():
			return nil, newError("mkdir", res.Path, StatusAlreadyExists, nil)
		}
		if err := m.requireParent(res.Path); err != nil {
			return nil, err
		}
		if err := m.ensureDir(res.Path); err != nil {
			return nil, err
		}
		if err := m.overlay.fs.Mkdir(res.OverlayPath, req.perm(true)); err != nil {
			return nil, err
		}
		m.log.WithField("path", res.Path).Debug("Created directory in overlay")

		created := Resolution{
			Path:          res.Path,
			OverlayPath:   res.OverlayPath,
			BasePath:      res.BasePath,
			OverlayExists: true,
			OverlayIsDir:  true,
		}
		ctx := m.newDirectoryContext(created)
		if err := m.applyAttributes(res.OverlayPath, req.Attributes); err != nil {
			return nil, disposeOnError(ctx, err)
		}
		return ctx, nil

	case Open:
		if res.OverlayExists && !res.OverlayIsDir {
			return nil, newError("opendir", res.Path, StatusNotADirectory, nil)
		}
		if !res.OverlayExists {
			switch {
			case res.BaseExists && !res.BaseIsDir:
				return nil, newError("opendir", res.Path, StatusNotADirectory, nil)
			case !res.BaseExists:
				return nil, newError("opendir", res.Path, StatusPathNotFound, nil)
			}
		}
		return m.newDirectoryContext(res), nil
	}

	return nil, newError("opendir", res.Path, StatusUnsuccessful,
		fmt.Errorf("%w %s for a directory", errInvalidDisposition, req.Disposition))
}

// openFile applies the disposition against the merged existence view and
// opens an OS handle in the chosen layer.
func (m *Mount) openFile(res Resolution, req OpenRequest) (Context, error) {
	exists := res.Exists()

	switch req.Disposition {
	case Open, Truncate:
		if !exists {
			return nil, newError("open", res.Path, StatusNotFound, nil)
		}
	case CreateNew:
		if exists {
			return nil, newError("open", res.Path, StatusFileExists, nil)
		}
	case Create, OpenOrCreate:
	default:
		return nil, newError("open", res.Path, StatusUnsuccessful,
			fmt.Errorf("%w %s", errInvalidDisposition, req.Disposition))
	}

	writeIntent := req.Access == AccessWriteData
	switch req.Disposition {
	case Create, Truncate, CreateNew:
		writeIntent = true
	case OpenOrCreate:
		writeIntent = writeIntent || !exists
	}

	layer, physical := m.overlay, res.OverlayPath
	switch {
	case res.OverlayExists:
	case res.BaseExists && writeIntent:
		if err := m.copyUp(res); err != nil {
			return nil, err
		}
	case res.BaseExists:
		layer, physical = m.base, res.BasePath
	default:
		if err := m.requireParent(res.Path); err != nil {
			return nil, err
		}
		if err := m.ensureDir(res.Path); err != nil {
			return nil, err
		}
	}

	flag := req.Disposition.flags()
	canWrite := layer == m.overlay && writeIntent
	if canWrite {
		flag |= os.O_RDWR
	} else {
		flag = os.O_RDONLY
	}

	file, err := layer.fs.OpenFile(physical, flag, req.perm(false))
	if err != nil {
		return nil, err
	}
	ctx := m.newFileContext(res.Path, physical, layer, file, canWrite)

	m.log.WithFields(logrus.Fields{
		"path":  res.Path,
		"layer": layerName(m, layer),
	}).Debug("Opened file")

	if req.Disposition == Create || req.Disposition == CreateNew {
		if err := m.applyAttributes(physical, req.Attributes|AttrArchive); err != nil {
			return nil, disposeOnError(ctx, err)
		}
	}
	return ctx, nil
}

// requireParent fails with PathNotFound unless the parent of vpath is a
// directory in the merged view.
func (m *Mount) requireParent(vpath string) error {
	parent, err := m.resolver.Resolve(parentPath(vpath))
	if err != nil {
		return err
	}
	if !parent.Exists() || !parent.IsDir() {
		return newError("open", vpath, StatusPathNotFound, nil)
	}
	return nil
}

// disposeOnError releases a partially built context and returns err with
// any release failure attached.
func disposeOnError(ctx Context, err error) error {
	if derr := ctx.Dispose(); derr != nil {
		return fmt.Errorf("%w (dispose: %v)", err, derr)
	}
	return err
}

func layerName(m *Mount, l *Layer) string {
	if l == m.overlay {
		return "overlay"
	}
	return "base"
}
