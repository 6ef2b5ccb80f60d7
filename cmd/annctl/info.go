package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata/cas"
)

func newInfoCommand(e *env) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "info PATH",
		Short: "Describe a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.open(cmd.Context(), args[0], cas.ReadOnly)
			if err != nil {
				return err
			}
			defer c.Close()

			n, m := c.Shape()
			fmt.Fprintf(e.stdout, "%s: %d obs x %d var (version %d)\n", args[0], n, m, c.Store().Version())

			tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tKIND\tDTYPE\tSHAPE\tENCODING")
			err = c.Store().Walk(func(info cas.NodeInfo) error {
				// Table columns and collection members sit two levels down.
				if !all && strings.Count(info.Path, "/") > 2 {
					return nil
				}
				dtype, enc := "", ""
				if info.Kind != cas.KindGroup {
					dtype = info.DType.String()
				}
				if info.Kind == cas.KindSparse {
					enc = info.Encoding.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", info.Path, info.Kind, dtype, shapeString(info.Shape), enc)
				return nil
			})
			if err != nil {
				return err
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every node, including table columns")
	return cmd
}

func shapeString(shape []int64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
