package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/cas"
)

func newHeadCommand(e *env) *cobra.Command {
	var (
		rows  int
		layer string
		join  string
	)
	cmd := &cobra.Command{
		Use:   "head PATH...",
		Short: "Print the first rows of X, or of a layer, across one or more containers",
		Long: `
Prints the first rows of the row-wise concatenation of the containers,
without copying them. With several containers, --join decides how their
var axes combine.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			policy, err := anndata.ParseJoinPolicy(join)
			if err != nil {
				return err
			}

			opened := make(map[string]*container, len(args))
			members := make([]*anndata.AnnData, 0, len(args))
			defer func() {
				for _, c := range opened {
					err = errors.Join(err, c.Close())
				}
			}()
			for _, p := range args {
				if _, dup := opened[p]; dup {
					return fmt.Errorf("%s given twice", p)
				}
				c, err := e.open(ctx, p, cas.ReadOnly)
				if err != nil {
					return err
				}
				opened[p] = c
				members = append(members, c.AnnData)
			}

			ds, err := anndata.NewDataSet(ctx, members,
				anndata.WithKeys(args...),
				anndata.WithJoin(policy),
				anndata.WithResourceController(e.rc),
				anndata.WithLogger(anndata.NewLogger(e.logger.Handler())),
			)
			if err != nil {
				return err
			}
			defer ds.Close()

			total, err := ds.RowCount()
			if err != nil {
				return err
			}
			hi := min(rows, total)
			var m cas.Matrix
			if layer == "" {
				m, err = ds.GetRows(ctx, 0, hi)
			} else {
				m, err = ds.GetLayerRows(ctx, layer, 0, hi)
			}
			if err != nil {
				return err
			}
			d, ok := m.(*cas.Dense)
			if !ok {
				d = m.(*cas.Sparse).ToDense()
			}
			vars, err := ds.VarNames()
			if err != nil {
				return err
			}

			obsNames := make(map[string][]string)
			tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "\t%s\n", strings.Join(vars, "\t"))
			for r := range hi {
				key, local, err := ds.Locate(r)
				if err != nil {
					return err
				}
				names, ok := obsNames[key]
				if !ok {
					tbl, err := opened[key].Obs()
					if err != nil {
						return err
					}
					if names, err = tbl.Index(ctx); err != nil {
						return err
					}
					obsNames[key] = names
				}
				fmt.Fprint(tw, names[local])
				for c := range d.Cols {
					fmt.Fprintf(tw, "\t%v", d.At(r, c))
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&rows, "rows", "n", 10, "number of rows")
	flags.StringVar(&layer, "layer", "", "read this layer instead of X")
	flags.StringVar(&join, "join", "inner", "var join policy (inner, union, intersection)")
	return cmd
}
