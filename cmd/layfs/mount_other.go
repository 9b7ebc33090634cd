//go:build !linux

package main

import (
	"errors"
	"runtime"

	"github.com/spf13/cobra"
)

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount",
		Short: "Mount the union of a base and an overlay directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("mounting is not supported on " + runtime.GOOS)
		},
	}
}
