package main

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata/adapter/fragments"
)

func newBarcodesCommand(e *env) *cobra.Command {
	var minCount int64
	cmd := &cobra.Command{
		Use:   "barcodes SOURCE",
		Short: "Count fragment records per barcode in a fragment file",
		Long: `
Prints one "barcode<TAB>count" line per barcode, most frequent first. The
output, cut to its first column, can be passed to "import fragments
--whitelist".
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := fragments.CountBarcodes(cmd.Context(), args[0], e.rc)
			if err != nil {
				return err
			}
			barcodes := slices.SortedFunc(maps.Keys(counts), func(a, b string) int {
				if c := cmp.Compare(counts[b], counts[a]); c != 0 {
					return c
				}
				return cmp.Compare(a, b)
			})
			for _, bc := range barcodes {
				if counts[bc] >= minCount {
					fmt.Fprintf(e.stdout, "%s\t%d\n", bc, counts[bc])
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&minCount, "min", 1, "omit barcodes with fewer records")
	return cmd
}
