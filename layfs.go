package layfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultVolumeLabel is the label reported by GetVolumeInfo unless overridden.
	DefaultVolumeLabel = "LayFs"

	defaultCopyBufferSize = 32 * 1024
)

var (
	// ErrInvalidRoot is returned when a layer root does not exist or is not a directory
	ErrInvalidRoot = errors.New("layer root doesn't exist or can't be accessed")
)

// Layer is one of the two physical directory trees backing a mount
type Layer struct {
	root     string
	fs       afero.Fs
	readOnly bool
}

// Root returns the canonical absolute root directory of the layer
func (l *Layer) Root() string {
	return l.root
}

// ReadOnly reports whether the layer rejects writes
func (l *Layer) ReadOnly() bool {
	return l.readOnly
}

// physical joins a cleaned virtual path onto the layer root
func (l *Layer) physical(vpath string) string {
	if vpath == "/" {
		return l.root
	}
	return l.root + filepath.FromSlash(vpath)
}

func newLayer(root string, fsys afero.Fs, readOnly bool) (*Layer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", root, err)
	}
	abs = filepath.Clean(abs)

	info, err := fsys.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", abs, ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w: not a directory", abs, ErrInvalidRoot)
	}

	if readOnly {
		fsys = afero.NewReadOnlyFs(fsys)
	}
	return &Layer{root: abs, fs: fsys, readOnly: readOnly}, nil
}

// Mount is a union of a read-only base layer and a writable overlay layer.
// A Mount holds no global state; several mounts may coexist in one process.
type Mount struct {
	base     *Layer
	overlay  *Layer
	resolver *Resolver

	meta           MetadataStore
	log            logrus.FieldLogger
	copyBufferSize int
	volumeLabel    string

	baseFs, overlayFs afero.Fs

	copyups      singleflight.Group
	dispositions *dispositionTable
}

// Option is a functional option for configuring a Mount
type Option func(*Mount)

// WithVolumeLabel sets the label reported by GetVolumeInfo
func WithVolumeLabel(label string) Option {
	return func(m *Mount) {
		m.volumeLabel = label
	}
}

// WithLogger sets the logger used for operation diagnostics
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Mount) {
		m.log = log
	}
}

// WithCopyBufferSize sets the buffer size for copy-up operations
func WithCopyBufferSize(size int) Option {
	return func(m *Mount) {
		if size > 0 {
			m.copyBufferSize = size
		}
	}
}

// WithMetadataStore replaces the store used for attributes and creation times
func WithMetadataStore(store MetadataStore) Option {
	return func(m *Mount) {
		m.meta = store
	}
}

// WithLayerFs replaces the filesystems used to reach the layer roots. Both
// must address the host's absolute paths; the base is wrapped read-only.
func WithLayerFs(base, overlay afero.Fs) Option {
	return func(m *Mount) {
		m.baseFs = base
		m.overlayFs = overlay
	}
}

// New creates a Mount over the given base and overlay roots. Both roots must
// exist; they are made absolute once here and never re-validated.
func New(baseRoot, overlayRoot string, opts ...Option) (*Mount, error) {
	m := &Mount{
		meta:           NewXattrStore(),
		log:            logrus.StandardLogger(),
		copyBufferSize: defaultCopyBufferSize,
		volumeLabel:    DefaultVolumeLabel,
		baseFs:         afero.NewOsFs(),
		overlayFs:      afero.NewOsFs(),
		dispositions:   newDispositionTable(),
	}
	for _, opt := range opts {
		opt(m)
	}

	base, err := newLayer(baseRoot, m.baseFs, true)
	if err != nil {
		return nil, fmt.Errorf("base layer: %w", err)
	}
	overlay, err := newLayer(overlayRoot, m.overlayFs, false)
	if err != nil {
		return nil, fmt.Errorf("overlay layer: %w", err)
	}

	m.base = base
	m.overlay = overlay
	m.resolver = &Resolver{base: base, overlay: overlay}
	m.log = m.log.WithField("component", "layfs")

	return m, nil
}

// Base returns the read-only layer
func (m *Mount) Base() *Layer {
	return m.base
}

// Overlay returns the writable layer
func (m *Mount) Overlay() *Layer {
	return m.overlay
}

// Resolver returns the path resolver bound to this mount's layers
func (m *Mount) Resolver() *Resolver {
	return m.resolver
}

// fail classifies err at the host boundary. Unsuccessful outcomes are logged
// with the underlying detail before they leave the core.
func (m *Mount) fail(op, vpath string, err error) error {
	if err == nil {
		return nil
	}
	err = osError(op, vpath, err)
	if Classify(err) == StatusUnsuccessful {
		m.log.WithFields(logrus.Fields{
			"op":   op,
			"path": vpath,
		}).WithError(err).Error("Unclassified storage failure")
	}
	return err
}

// ensureDir ensures every parent directory of vpath exists in the overlay.
// Missing directories mirror the mode and times of their base counterpart.
func (m *Mount) ensureDir(vpath string) error {
	dir := parentPath(vpath)
	if dir == "/" {
		return nil
	}

	if info, err := m.overlay.fs.Stat(m.overlay.physical(dir)); err == nil {
		if !info.IsDir() {
			return newError("mkdir", dir, StatusPathNotFound, errors.New("overlay component is not a directory"))
		}
		return nil
	}

	if err := m.ensureDir(dir); err != nil {
		return err
	}

	target := m.overlay.physical(dir)
	baseInfo, err := m.base.fs.Stat(m.base.physical(dir))
	if err != nil || !baseInfo.IsDir() {
		if err := m.overlay.fs.Mkdir(target, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
		return nil
	}

	if err := m.overlay.fs.Mkdir(target, baseInfo.Mode().Perm()|0o700); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	atime, _ := accessTime(baseInfo)
	if err := m.overlay.fs.Chtimes(target, atime, baseInfo.ModTime()); err != nil {
		m.log.WithField("path", dir).WithError(err).Debug("Failed to mirror directory times")
	}
	return nil
}
