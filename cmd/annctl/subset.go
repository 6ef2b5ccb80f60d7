package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/cas"
)

func newSubsetCommand(e *env) *cobra.Command {
	var obsSpec, varSpec, obsNames, varNames string
	cmd := &cobra.Command{
		Use:   "subset SRC DEST",
		Short: "Copy a row and column selection of a container",
		Long: `
Writes the selected observations and variables of SRC, with every element
sliced along its axes, as a new container at DEST. Selections are index
lists with half-open ranges, e.g. "0:100,250,300:310", or comma-separated
names matched against the obs or var index. Omitted selections keep
everything.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := e.open(ctx, args[0], cas.ReadOnly)
			if err != nil {
				return err
			}
			defer src.Close()

			obsMask, err := selection(obsSpec, obsNames, func() ([]string, error) {
				tbl, err := src.Obs()
				if err != nil {
					return nil, err
				}
				return tbl.Index(ctx)
			})
			if err != nil {
				return fmt.Errorf("obs selection: %w", err)
			}
			varMask, err := selection(varSpec, varNames, func() ([]string, error) {
				tbl, err := src.Var()
				if err != nil {
					return nil, err
				}
				return tbl.Index(ctx)
			})
			if err != nil {
				return fmt.Errorf("var selection: %w", err)
			}

			out, err := e.produce(ctx, args[1], func(b *backend, opts []anndata.Option) (*anndata.AnnData, error) {
				return src.Subset(ctx, b, obsMask, varMask, opts...)
			})
			if err != nil {
				return err
			}
			defer out.Close()
			n, m := out.Shape()
			fmt.Fprintf(e.stdout, "%s: %d obs x %d var\n", args[1], n, m)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&obsSpec, "obs", "", "observation indices")
	flags.StringVar(&varSpec, "var", "", "variable indices")
	flags.StringVar(&obsNames, "obs-names", "", "observation names")
	flags.StringVar(&varNames, "var-names", "", "variable names")
	cmd.MarkFlagsMutuallyExclusive("obs", "obs-names")
	cmd.MarkFlagsMutuallyExclusive("var", "var-names")
	return cmd
}

// selection builds a mask from an index spec or a name list. Both empty
// selects everything.
func selection(spec, names string, index func() ([]string, error)) (*roaring.Bitmap, error) {
	switch {
	case spec != "":
		return parseIndexSpec(spec)
	case names != "":
		idx, err := index()
		if err != nil {
			return nil, err
		}
		pos := make(map[string]int, len(idx))
		for i, n := range idx {
			pos[n] = i
		}
		var rows []int
		for _, n := range strings.Split(names, ",") {
			i, ok := pos[strings.TrimSpace(n)]
			if !ok {
				return nil, fmt.Errorf("%w: %q", anndata.ErrNotFound, n)
			}
			rows = append(rows, i)
		}
		return anndata.MaskFromIndices(rows...)
	default:
		return nil, nil
	}
}

// parseIndexSpec parses "a:b,c,..." into a mask; a:b is half-open.
func parseIndexSpec(spec string) (*roaring.Bitmap, error) {
	mask := roaring.New()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, ":")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad index %q", part)
		}
		if !isRange {
			m, err := anndata.MaskFromIndices(a)
			if err != nil {
				return nil, err
			}
			mask.Or(m)
			continue
		}
		b, err := strconv.Atoi(hi)
		if err != nil || a < 0 || b < a {
			return nil, fmt.Errorf("bad range %q", part)
		}
		mask.Or(anndata.MaskRange(a, b))
	}
	return mask, nil
}
