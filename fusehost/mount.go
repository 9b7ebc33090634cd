//go:build linux

// Package fusehost serves a layfs.Mount to the kernel over FUSE.
package fusehost

import (
	"fmt"
	"os"
	"time"

	"github.com/absfs/layfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// Options configures the FUSE server
type Options struct {
	// Debug logs every FUSE request
	Debug bool
	// MaxBackground bounds the requests the kernel keeps in flight
	MaxBackground int
	// AllowOther lets users other than the mounting one access the mount
	AllowOther bool
	// Timeout is how long the kernel may cache entries and attributes.
	// Zero disables caching so every lookup reaches the mount.
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Server is a running FUSE mount
type Server struct {
	*fuse.Server
	mountpoint string
}

// Mountpoint returns the directory the server is attached to
func (s *Server) Mountpoint() string {
	return s.mountpoint
}

// Mount attaches m at mountpoint. The returned server is already serving;
// call Unmount to detach it and Wait to block until it is detached.
func Mount(m *layfs.Mount, mountpoint string, opts Options) (*Server, error) {
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("create mountpoint: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "fusehost")

	timeout := opts.Timeout
	fsOpts := &fs.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:        m.Base().Root(),
			Name:          "layfs",
			Debug:         opts.Debug,
			MaxBackground: opts.MaxBackground,
			AllowOther:    opts.AllowOther,
		},
	}

	root := &node{m: m, log: log}
	server, err := fs.Mount(mountpoint, root, fsOpts)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", mountpoint, err)
	}

	log.WithFields(logrus.Fields{
		"mountpoint": mountpoint,
		"base":       m.Base().Root(),
		"overlay":    m.Overlay().Root(),
	}).Info("Mounted")
	return &Server{Server: server, mountpoint: mountpoint}, nil
}
