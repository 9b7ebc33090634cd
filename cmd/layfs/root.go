package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logOptions struct {
	debug   bool
	file    string
	maxSize int
	backups int
}

func (o *logOptions) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("log", pflag.ContinueOnError)
	flags.BoolVarP(&o.debug, "debug", "d", false, "enable debug logging, including every filesystem request")
	flags.StringVar(&o.file, "log-file", "", "also write logs to this file, rotating it by size")
	flags.IntVar(&o.maxSize, "log-max-size", 128, "megabytes after which the log file is rotated")
	flags.IntVar(&o.backups, "log-max-backups", 5, "number of rotated log files to keep")
	return flags
}

// setup configures the standard logrus logger. The returned closer flushes
// the rotating file, if any.
func (o *logOptions) setup(stderr io.Writer) (io.Closer, error) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
	if o.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if o.file == "" {
		logrus.SetOutput(stderr)
		return nil, nil
	}
	if o.maxSize <= 0 {
		return nil, fmt.Errorf("invalid log file size: %d", o.maxSize)
	}

	rotating := &lumberjack.Logger{
		Filename:   o.file,
		MaxSize:    o.maxSize,
		MaxBackups: o.backups,
	}
	logrus.SetOutput(io.MultiWriter(stderr, rotating))
	return rotating, nil
}

func newRootCmd() *cobra.Command {
	var logOpts logOptions
	var closer io.Closer

	cmd := &cobra.Command{
		Use:           "layfs",
		Short:         "Layered filesystem over a read-only base and a writable overlay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			closer, err = logOpts.setup(cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closer == nil {
				return nil
			}
			return closer.Close()
		},
	}

	cmd.PersistentFlags().AddFlagSet(logOpts.flagSet())
	cmd.AddCommand(newMountCmd())
	cmd.SetErr(os.Stderr)
	return cmd
}
