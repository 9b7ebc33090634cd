package layfs

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// Presence describes where a virtual path exists. Zero means absent.
type Presence uint8

const (
	FileInOverlay Presence = 1 << iota
	DirInOverlay
	FileInBase
	DirInBase

	Absent Presence = 0
)

func (p Presence) String() string {
	if p == Absent {
		return "absent"
	}
	var parts []string
	for _, f := range []struct {
		bit  Presence
		name string
	}{
		{FileInOverlay, "file-in-overlay"},
		{DirInOverlay, "dir-in-overlay"},
		{FileInBase, "file-in-base"},
		{DirInBase, "dir-in-base"},
	} {
		if p&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Resolution is the result of mapping a virtual path onto both layers
type Resolution struct {
	Path          string
	OverlayPath   string
	BasePath      string
	OverlayExists bool
	BaseExists    bool
	OverlayIsDir  bool
	BaseIsDir     bool

	overlayInfo os.FileInfo
	baseInfo    os.FileInfo
}

// Exists reports merged existence: present in either layer
func (r Resolution) Exists() bool {
	return r.OverlayExists || r.BaseExists
}

// IsDir reports the merged type; the overlay entry wins when both exist
func (r Resolution) IsDir() bool {
	if r.OverlayExists {
		return r.OverlayIsDir
	}
	return r.BaseIsDir
}

// Presence returns the per-layer existence and type as a bit set
func (r Resolution) Presence() Presence {
	var p Presence
	if r.OverlayExists {
		if r.OverlayIsDir {
			p |= DirInOverlay
		} else {
			p |= FileInOverlay
		}
	}
	if r.BaseExists {
		if r.BaseIsDir {
			p |= DirInBase
		} else {
			p |= FileInBase
		}
	}
	return p
}

// Resolver maps virtual paths to physical paths in both layers. It keeps no
// state besides the layer roots and never caches: every call re-stats.
type Resolver struct {
	base    *Layer
	overlay *Layer
}

// Resolve stats vpath in both layers. Missing entries, including paths with a
// file where a directory component is expected, resolve as absent.
func (r *Resolver) Resolve(vpath string) (Resolution, error) {
	vpath = cleanPath(vpath)
	res := Resolution{
		Path:        vpath,
		OverlayPath: r.overlay.physical(vpath),
		BasePath:    r.base.physical(vpath),
	}

	info, err := statLayer(r.overlay, res.OverlayPath)
	if err != nil {
		return res, osError("resolve", vpath, err)
	}
	if info != nil {
		res.OverlayExists, res.OverlayIsDir, res.overlayInfo = true, info.IsDir(), info
	}

	info, err = statLayer(r.base, res.BasePath)
	if err != nil {
		return res, osError("resolve", vpath, err)
	}
	if info != nil {
		res.BaseExists, res.BaseIsDir, res.baseInfo = true, info.IsDir(), info
	}

	return res, nil
}

func statLayer(l *Layer, physical string) (os.FileInfo, error) {
	info, err := l.fs.Stat(physical)
	if err == nil {
		return info, nil
	}
	if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	return nil, err
}

// cleanPath normalizes a virtual path. The result is absolute and cannot
// climb above the root. Backslashes are separators only where the host
// uses them; elsewhere they are ordinary name bytes.
func cleanPath(p string) string {
	if filepath.Separator == '\\' {
		p = strings.ReplaceAll(p, `\`, "/")
	}
	return path.Clean("/" + p)
}

// parentPath returns the virtual parent directory of a cleaned path
func parentPath(vpath string) string {
	return path.Dir(vpath)
}

// baseName returns the final element of a cleaned virtual path
func baseName(vpath string) string {
	if vpath == "/" {
		return ""
	}
	return path.Base(vpath)
}
