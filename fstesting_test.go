package layfs

import (
	"os"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/fstesting"
)

// suiteFS is the absfs view with the link methods the conformance suite
// expects. Links are not supported, so the link calls fail.
type suiteFS struct {
	absfs.FileSystem
}

func (s suiteFS) Lstat(name string) (os.FileInfo, error) {
	return s.Stat(name)
}

func (s suiteFS) Lchown(name string, uid, gid int) error {
	return s.Chown(name, uid, gid)
}

func (s suiteFS) Readlink(name string) (string, error) {
	return "", &os.PathError{Op: "readlink", Path: name, Err: ErrUnimplemented}
}

func (s suiteFS) Symlink(oldname, newname string) error {
	return &os.LinkError{Op: "symlink", Old: oldname, New: newname, Err: ErrUnimplemented}
}

// TestFileSystemSuite runs the absfs conformance suite against the mount
// view. The base layer is empty, so every entry the suite creates lives in
// the overlay.
func TestFileSystemSuite(t *testing.T) {
	tm := newTestMount(t)

	suite := &fstesting.Suite{
		FS: suiteFS{tm.FileSystem()},
		Features: fstesting.Features{
			Symlinks:      false,
			HardLinks:     false,
			Permissions:   true,
			Timestamps:    true,
			CaseSensitive: true,
			AtomicRename:  true,
			SparseFiles:   false,
			LargeFiles:    false,
		},
	}

	suite.Run(t)
}
