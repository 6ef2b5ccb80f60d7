// Command annctl imports, inspects, subsets and concatenates annotated
// data containers.
//
// Containers live on the backend chosen in the optional YAML config
// (--config): local directories by default, or a Badger database, a MinIO
// bucket or an S3 bucket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "annctl: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		logLevel   string
		e          env
	)
	root := &cobra.Command{
		Use:           "annctl",
		Short:         "Work with annotated data containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			ne, err := newEnv(cfg, stdout, stderr)
			if err != nil {
				return err
			}
			e = *ne
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", os.Getenv("ANNCTL_CONFIG"), "YAML config file")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newImportCommand(&e),
		newInfoCommand(&e),
		newHeadCommand(&e),
		newSubsetCommand(&e),
		newConcatCommand(&e),
		newExportCommand(&e),
		newVacuumCommand(&e),
		newBreakLockCommand(&e),
		newBarcodesCommand(&e),
	)
	return root
}
