package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/cas"
)

func newConcatCommand(e *env) *cobra.Command {
	var (
		join     string
		keys     []string
		label    string
		indexSep string
	)
	cmd := &cobra.Command{
		Use:   "concat DEST SRC...",
		Short: "Stack containers row-wise into a new container",
		Long: `
Writes the row-wise concatenation of the SRC containers to DEST. X, and
the layers and obsm elements every source has, are stacked; obs gains a
label column naming each row's source.
`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			policy, err := anndata.ParseJoinPolicy(join)
			if err != nil {
				return err
			}
			srcs := args[1:]
			if keys == nil {
				keys = srcs
			}
			var members []*anndata.AnnData
			for _, p := range srcs {
				c, err := e.open(ctx, p, cas.ReadOnly)
				if err != nil {
					return err
				}
				defer c.Close()
				members = append(members, c.AnnData)
			}

			out, err := e.produce(ctx, args[0], func(b *backend, opts []anndata.Option) (*anndata.AnnData, error) {
				opts = append(opts,
					anndata.WithJoin(policy),
					anndata.WithKeys(keys...),
					anndata.WithLabelColumn(label),
					anndata.WithIndexSeparator(indexSep),
				)
				return anndata.Concat(ctx, b, members, opts...)
			})
			if err != nil {
				return err
			}
			defer out.Close()
			n, m := out.Shape()
			fmt.Fprintf(e.stdout, "%s: %d obs x %d var\n", args[0], n, m)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&join, "join", "inner", "var join policy (inner, union, intersection)")
	flags.StringSliceVar(&keys, "keys", nil, "label of each source (default: its path)")
	flags.StringVar(&label, "label", anndata.DefaultLabelColumn, "obs column naming the source; empty disables it")
	flags.StringVar(&indexSep, "index-separator", "", "make obs names unique by appending separator and key")
	return cmd
}
