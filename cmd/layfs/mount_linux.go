//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/absfs/layfs"
	"github.com/absfs/layfs/fusehost"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type mountOptions struct {
	base       string
	overlay    string
	mountpoint string
	label      string
	threads    int
	allowOther bool
	copyBuffer int
}

func (o *mountOptions) validate() error {
	switch {
	case o.base == "":
		return errors.New("missing base directory (--base)")
	case o.overlay == "":
		return errors.New("missing overlay directory (--overlay)")
	case o.mountpoint == "":
		return errors.New("missing mount point (--mount-point)")
	case o.threads <= 0:
		return fmt.Errorf("invalid thread count: %d", o.threads)
	}
	return nil
}

func newMountCmd() *cobra.Command {
	var opts mountOptions

	cmd := &cobra.Command{
		Use:   "mount",
		Short: "Mount the union of a base and an overlay directory",
		Example: `  layfs mount -r /srv/base -w /srv/overlay -m /mnt/layfs
  layfs mount -r /srv/base -w /srv/overlay -m /mnt/layfs -l Scratch -t 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			debug, _ := cmd.Flags().GetBool("debug")
			return runMount(cmd.Context(), &opts, debug)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.base, "base", "r", "", "read-only base directory")
	flags.StringVarP(&opts.overlay, "overlay", "w", "", "writable overlay directory")
	flags.StringVarP(&opts.mountpoint, "mount-point", "m", "", "directory to mount the union on")
	flags.StringVarP(&opts.label, "label", "l", layfs.DefaultVolumeLabel, "volume label")
	flags.IntVarP(&opts.threads, "threads", "t", 3, "requests the kernel may keep in flight")
	flags.BoolVar(&opts.allowOther, "allow-other", false, "allow other users to access the mount")
	flags.IntVar(&opts.copyBuffer, "copy-buffer", 32*1024, "buffer size in bytes used when copying files up")
	return cmd
}

func runMount(ctx context.Context, opts *mountOptions, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logrus.WithField("mountpoint", opts.mountpoint)

	m, err := layfs.New(opts.base, opts.overlay,
		layfs.WithVolumeLabel(opts.label),
		layfs.WithCopyBufferSize(opts.copyBuffer),
		layfs.WithLogger(logrus.StandardLogger()),
	)
	if err != nil {
		return err
	}

	server, err := fusehost.Mount(m, opts.mountpoint, fusehost.Options{
		Debug:         debug,
		MaxBackground: opts.threads,
		AllowOther:    opts.allowOther,
		Logger:        logrus.StandardLogger(),
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Wait()
	}()

	select {
	case <-done:
		log.Info("Unmounted externally")
		return nil
	case <-ctx.Done():
	}

	log.Info("Unmounting")
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", opts.mountpoint, err)
	}
	<-done
	return nil
}
