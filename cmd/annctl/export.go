package main

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata/adapter/parquet"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

func newExportCommand(e *env) *cobra.Command {
	var element string
	cmd := &cobra.Command{
		Use:   "export PATH OUT.parquet",
		Short: "Write an annotation table to a Parquet file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := e.open(ctx, args[0], cas.ReadOnly)
			if err != nil {
				return err
			}
			defer c.Close()

			tbl, err := frame.OpenTable(c.Store(), element)
			if err != nil {
				return fmt.Errorf("%s: %w", element, err)
			}
			f, err := tbl.Load(ctx)
			if err != nil {
				return err
			}
			if err := parquet.WriteFile(args[1], f, memory.NewGoAllocator()); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "%s: %d rows\n", args[1], f.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&element, "element", "/obs", "table to export, e.g. /obs, /var or /obsm/meta")
	return cmd
}
