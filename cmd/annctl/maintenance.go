package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata/cas"
)

func newVacuumCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum PATH",
		Short: "Delete blobs and manifest versions the current version does not use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.open(cmd.Context(), args[0], cas.ReadWrite)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Store().Vacuum(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "%s: deleted %d blobs\n", args[0], n)
			return nil
		},
	}
}

func newBreakLockCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "break-lock PATH",
		Short: "Remove the writer lock left by a crashed writer",
		Long: `
Removes the writer lock of the container at PATH. Only use it when the
writer holding the lock is known to be gone; a live writer keeps writing
without noticing.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := e.openBackend(ctx, args[0])
			if err != nil {
				return err
			}
			defer b.Close()
			var opts []cas.Option
			if b.locker != nil {
				opts = append(opts, cas.WithLocker(b.locker))
			}
			if err := cas.BreakLock(ctx, b, opts...); err != nil {
				return err
			}
			e.logger.WarnContext(ctx, "writer lock removed", "container", args[0])
			return nil
		},
	}
}
