package layfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// copyUpPrefix names the temporary files a copy-up writes before publishing
const copyUpPrefix = ".layfs-copyup-"

func isCopyUpTemp(name string) bool {
	return strings.HasPrefix(name, copyUpPrefix)
}

// copyUp materializes the base file of res into the overlay. Concurrent
// copy-ups of one path share a single copy.
func (m *Mount) copyUp(res Resolution) error {
	_, err, shared := m.copyups.Do(res.Path, func() (interface{}, error) {
		return nil, m.copyUpFile(res)
	})
	if shared {
		m.log.WithField("path", res.Path).Debug("Joined in-flight copy-up")
	}
	return err
}

// copyUpFile copies a regular file from the base layer to the overlay
func (m *Mount) copyUpFile(res Resolution) (err error) {
	// a copy-up that completed since res was resolved wins
	if _, err := m.overlay.fs.Stat(res.OverlayPath); err == nil {
		return nil
	}

	info, err := m.base.fs.Stat(res.BasePath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return newError("copyup", res.Path, StatusIsADirectory, nil)
	}

	if err := m.ensureDir(res.Path); err != nil {
		return err
	}

	src, err := m.base.fs.Open(res.BasePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	tmp, err := afero.TempFile(m.overlay.fs, filepath.Dir(res.OverlayPath), copyUpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = m.overlay.fs.Remove(tmpName)
			m.dropMetadata(tmpName)
		}
	}()

	buf := make([]byte, m.copyBufferSize)
	if _, err = io.CopyBuffer(tmp, src, buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// the copy itself may have moved the base access time
	if after, serr := m.base.fs.Stat(res.BasePath); serr == nil {
		info = after
	}

	// the record goes before chmod: a store may need write access
	md := m.loadMetadata(res.BasePath)
	md.Created = creationTime(res.BasePath, md, info)
	if err = m.meta.Save(tmpName, md); err != nil {
		return fmt.Errorf("failed to copy metadata: %w", err)
	}
	if err = m.overlay.fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	atime, ok := accessTime(info)
	if !ok {
		atime = info.ModTime()
	}
	if err = m.overlay.fs.Chtimes(tmpName, atime, info.ModTime()); err != nil {
		return fmt.Errorf("failed to set file times: %w", err)
	}

	err = m.publish(tmpName, res.OverlayPath)
	if errors.Is(err, fs.ErrExist) {
		m.log.WithField("path", res.Path).Debug("Lost copy-up race, keeping existing overlay file")
		m.dropMetadata(tmpName)
		err = m.overlay.fs.Remove(tmpName)
		return err
	}
	if err != nil {
		return err
	}
	m.moveMetadata(tmpName, res.OverlayPath)

	m.log.WithField("path", res.Path).WithField("size", info.Size()).Debug("Copied up")
	return nil
}

// publish moves a finished copy-up into place without replacing an
// existing overlay entry.
func (m *Mount) publish(tmp, final string) error {
	if _, ok := m.overlay.fs.(*afero.OsFs); ok {
		return publish(tmp, final)
	}
	if _, err := m.overlay.fs.Stat(final); err == nil {
		return &os.LinkError{Op: "rename", Old: tmp, New: final, Err: fs.ErrExist}
	}
	return m.overlay.fs.Rename(tmp, final)
}
