//go:build linux

package fusehost

import (
	"hash/fnv"
	"os"
	"syscall"

	"github.com/absfs/layfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

func fakeIno(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// unixMode converts the type and permission bits of an entry
func unixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		m |= syscall.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= syscall.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= syscall.S_ISVTX
	}
	if mode.IsDir() {
		return m | syscall.S_IFDIR
	}
	return m | syscall.S_IFREG
}

func applyEntry(out *fuse.Attr, e layfs.EntryInfo, sd layfs.SecurityDescriptor) {
	out.Mode = unixMode(e.Mode)
	out.Size = uint64(e.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Nlink = 1
	if e.IsDir() {
		out.Nlink = 2
	}
	out.Owner = fuse.Owner{Uid: sd.Owner, Gid: sd.Group}

	out.Atime = uint64(e.Accessed.Unix())
	out.Atimensec = uint32(e.Accessed.Nanosecond())
	out.Mtime = uint64(e.Written.Unix())
	out.Mtimensec = uint32(e.Written.Nanosecond())
	out.Ctime = out.Mtime
	out.Ctimensec = out.Mtimensec
}
