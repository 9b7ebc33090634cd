//go:build linux

package fusehost

import (
	"context"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/absfs/layfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// renameNoReplace is RENAME_NOREPLACE from renameat2(2)
const renameNoReplace = 0x1

type node struct {
	fs.Inode
	m   *layfs.Mount
	log logrus.FieldLogger
}

// vpath is the virtual path of the node. It follows renames because it is
// derived from the inode tree on every call.
func (n *node) vpath() string {
	return "/" + n.Path(nil)
}

func (n *node) child(name string) string {
	return path.Join(n.vpath(), name)
}

func (n *node) errno(err error) syscall.Errno {
	return sysErrno(n.log, err)
}

func (n *node) newChild(ctx context.Context, name string, e layfs.EntryInfo) *fs.Inode {
	mode := uint32(fuse.S_IFREG)
	if e.IsDir() {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, &node{m: n.m, log: n.log}, fs.StableAttr{
		Mode: mode,
		Ino:  fakeIno(n.child(name)),
	})
}

// stat reads entry info and security of vpath through an attributes-only open
func (n *node) stat(vpath string, out *fuse.Attr) (layfs.EntryInfo, error) {
	h, err := n.m.CreateOrOpen(layfs.OpenRequest{
		Path:        vpath,
		Access:      layfs.AccessReadAttributes,
		Disposition: layfs.Open,
	})
	if err != nil {
		return layfs.EntryInfo{}, err
	}
	defer n.m.Close(h)
	return statHandle(n.m, h, out)
}

func statHandle(m *layfs.Mount, h *layfs.Handle, out *fuse.Attr) (layfs.EntryInfo, error) {
	e, err := m.GetEntryInfo(h)
	if err != nil {
		return layfs.EntryInfo{}, err
	}
	sd, err := m.GetSecurity(h)
	if err != nil {
		return layfs.EntryInfo{}, err
	}
	applyEntry(out, e, sd)
	return e, nil
}

var _ = (fs.NodeGetattrer)((*node)(nil))

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*handle); ok {
		if _, err := statHandle(n.m, h.h, &out.Attr); err != nil {
			return n.errno(err)
		}
		return 0
	}
	if _, err := n.stat(n.vpath(), &out.Attr); err != nil {
		return n.errno(err)
	}
	return 0
}

var _ = (fs.NodeSetattrer)((*node)(nil))

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.log.WithFields(logrus.Fields{"path": n.vpath(), "valid": in.Valid}).Debug("setattr")

	if in.Valid&fuse.FATTR_SIZE != 0 {
		if h, ok := fh.(*handle); ok {
			if err := n.m.SetEndOfFile(h.h, int64(in.Size)); err != nil {
				return n.errno(err)
			}
		} else if errno := n.withWritable(func(h *layfs.Handle) error {
			return n.m.SetEndOfFile(h, int64(in.Size))
		}); errno != 0 {
			return errno
		}
	}

	if in.Valid&(fuse.FATTR_MODE|fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		errno := n.withWritable(func(h *layfs.Handle) error {
			sd, err := n.m.GetSecurity(h)
			if err != nil {
				return err
			}
			if in.Valid&fuse.FATTR_MODE != 0 {
				sd.Mode = layfsMode(in.Mode)
			}
			if in.Valid&fuse.FATTR_UID != 0 {
				sd.Owner = in.Uid
			}
			if in.Valid&fuse.FATTR_GID != 0 {
				sd.Group = in.Gid
			}
			return n.m.SetSecurity(h, sd)
		})
		if errno != 0 {
			return errno
		}
	}

	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME) != 0 {
		var ts layfs.Timestamps
		now := time.Now()
		if in.Valid&fuse.FATTR_ATIME != 0 {
			ts.Accessed = time.Unix(int64(in.Atime), int64(in.Atimensec))
			if in.Valid&fuse.FATTR_ATIME_NOW != 0 {
				ts.Accessed = now
			}
		}
		if in.Valid&fuse.FATTR_MTIME != 0 {
			ts.Written = time.Unix(int64(in.Mtime), int64(in.Mtimensec))
			if in.Valid&fuse.FATTR_MTIME_NOW != 0 {
				ts.Written = now
			}
		}
		if errno := n.withWritable(func(h *layfs.Handle) error {
			return n.m.SetTimestamps(h, ts)
		}); errno != 0 {
			return errno
		}
	}

	if _, err := n.stat(n.vpath(), &out.Attr); err != nil {
		return n.errno(err)
	}
	return 0
}

// withWritable runs fn on a write-intent handle of the node, copying a base
// file up first.
func (n *node) withWritable(fn func(h *layfs.Handle) error) syscall.Errno {
	h, err := n.m.CreateOrOpen(layfs.OpenRequest{
		Path:        n.vpath(),
		Access:      layfs.AccessWriteData,
		Disposition: layfs.Open,
	})
	if err != nil {
		return n.errno(err)
	}
	err = fn(h)
	if cerr := n.m.Close(h); err == nil {
		err = cerr
	}
	return n.errno(err)
}

func layfsMode(mode uint32) os.FileMode {
	return os.FileMode(mode & 0o777)
}

var _ = (fs.NodeLookuper)((*node)(nil))

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	e, err := n.stat(n.child(name), &out.Attr)
	if err != nil {
		return nil, n.errno(err)
	}
	return n.newChild(ctx, name, e), 0
}

var _ = (fs.NodeReaddirer)((*node)(nil))

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	h, err := n.m.CreateOrOpen(layfs.OpenRequest{
		Path:        n.vpath(),
		Access:      layfs.AccessReadData,
		Disposition: layfs.Open,
		Directory:   true,
	})
	if err != nil {
		return nil, n.errno(err)
	}
	defer n.m.Close(h)

	list, err := n.m.ListEntries(h, "*")
	if err != nil {
		return nil, n.errno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(list))
	for _, e := range list {
		entries = append(entries, fuse.DirEntry{
			Name: e.Name,
			Mode: unixMode(e.Mode),
			Ino:  fakeIno(n.child(e.Name)),
		})
	}
	return fs.NewListDirStream(entries), 0
}

var _ = (fs.NodeOpener)((*node)(nil))

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	req := layfs.OpenRequest{
		Path:        n.vpath(),
		Access:      layfs.AccessReadData,
		Disposition: layfs.Open,
	}
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		req.Access = layfs.AccessWriteData
	}
	if flags&syscall.O_TRUNC != 0 {
		req.Disposition = layfs.Truncate
	}

	h, err := n.m.CreateOrOpen(req)
	if err != nil {
		return nil, 0, n.errno(err)
	}
	return &handle{m: n.m, h: h, log: n.log}, fuse.FOPEN_DIRECT_IO, 0
}

var _ = (fs.NodeCreater)((*node)(nil))

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	req := layfs.OpenRequest{
		Path:        n.child(name),
		Access:      layfs.AccessWriteData,
		Disposition: layfs.OpenOrCreate,
		Perm:        layfsMode(mode),
	}
	switch {
	case flags&syscall.O_EXCL != 0:
		req.Disposition = layfs.CreateNew
	case flags&syscall.O_TRUNC != 0:
		req.Disposition = layfs.Create
	}

	h, err := n.m.CreateOrOpen(req)
	if err != nil {
		return nil, nil, 0, n.errno(err)
	}
	e, err := statHandle(n.m, h, &out.Attr)
	if err != nil {
		n.m.Close(h)
		return nil, nil, 0, n.errno(err)
	}
	return n.newChild(ctx, name, e), &handle{m: n.m, h: h, log: n.log}, fuse.FOPEN_DIRECT_IO, 0
}

var _ = (fs.NodeMkdirer)((*node)(nil))

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	h, err := n.m.CreateOrOpen(layfs.OpenRequest{
		Path:        n.child(name),
		Disposition: layfs.CreateNew,
		Directory:   true,
		Perm:        layfsMode(mode),
	})
	if err != nil {
		return nil, n.errno(err)
	}
	defer n.m.Close(h)

	e, err := statHandle(n.m, h, &out.Attr)
	if err != nil {
		return nil, n.errno(err)
	}
	return n.newChild(ctx, name, e), 0
}

// remove marks the named child for deletion and releases the handle, which
// removes it unless another handle still refers to it.
func (n *node) remove(name string, dir bool) syscall.Errno {
	h, err := n.m.CreateOrOpen(layfs.OpenRequest{
		Path:        n.child(name),
		Access:      layfs.AccessReadData,
		Disposition: layfs.Open,
		Directory:   dir,
	})
	if err != nil {
		return n.errno(err)
	}
	if err := n.m.Delete(h); err != nil {
		n.m.Close(h)
		return n.errno(err)
	}
	return n.errno(n.m.Close(h))
}

var _ = (fs.NodeUnlinker)((*node)(nil))

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, false)
}

var _ = (fs.NodeRmdirer)((*node)(nil))

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, true)
}

var _ = (fs.NodeRenamer)((*node)(nil))

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	parent, ok := newParent.(*node)
	if !ok {
		return syscall.EINVAL
	}
	if flags&^renameNoReplace != 0 {
		return syscall.EINVAL
	}

	replace := flags&renameNoReplace == 0
	if err := n.m.Rename(n.child(name), parent.child(newName), replace); err != nil {
		return n.errno(err)
	}
	return 0
}

var _ = (fs.NodeStatfser)((*node)(nil))

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const bsize = 4096

	space, err := n.m.GetFreeSpace()
	if err != nil {
		return n.errno(err)
	}
	info := n.m.GetVolumeInfo()

	out.Bsize = bsize
	out.Frsize = bsize
	out.Blocks = space.TotalBytes / bsize
	out.Bfree = space.TotalFreeBytes / bsize
	out.Bavail = space.FreeBytesAvailable / bsize
	out.NameLen = info.MaxComponentLength
	return 0
}
