package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/adapter/fragments"
	"github.com/hupe1980/anndata/adapter/mtx"
	"github.com/hupe1980/anndata/adapter/parquet"
	"github.com/hupe1980/anndata/adapter/tenx"
)

type importFlags struct {
	transpose    bool
	geneIDs      bool
	genome       string
	binSize      int64
	minFragments int
	maxFragSize  int
	gtf          string
	tssWindow    int64
	peaks        string
	whitelist    string
	target       string
}

func newImportCommand(e *env) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import FORMAT SOURCE DEST",
		Short: "Create a container from a Matrix Market, 10x, fragment or Parquet source",
		Long: `
Parses SOURCE with the reader for FORMAT and writes a new container at DEST
in one commit. FORMAT is one of:

  mtx        a Matrix Market file (optionally gzipped)
  10x        a Cell Ranger matrix directory
  fragments  a scATAC-seq fragment file, binned with --genome
  parquet    a Parquet table, written to --target
`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAdapter(e, args[0], f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := e.produce(ctx, args[2], func(b *backend, opts []anndata.Option) (*anndata.AnnData, error) {
				return anndata.Import(ctx, b, a, args[1], opts...)
			})
			if err != nil {
				return err
			}
			defer c.Close()
			n, m := c.Shape()
			fmt.Fprintf(e.stdout, "%s: %d obs x %d var\n", args[2], n, m)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&f.transpose, "transpose", false, "mtx: the file stores features as rows")
	flags.BoolVar(&f.geneIDs, "gene-ids", false, "10x: index var by gene id instead of symbol")
	flags.StringVar(&f.genome, "genome", "", "fragments: chrom.sizes file")
	flags.Int64Var(&f.binSize, "bin-size", fragments.DefaultBinSize, "fragments: bin width in bp")
	flags.IntVar(&f.minFragments, "min-fragments", 0, "fragments: drop cells with fewer unique fragments")
	flags.IntVar(&f.maxFragSize, "max-fragment-size", fragments.DefaultMaxFragmentSize, "fragments: size distribution bound")
	flags.StringVar(&f.gtf, "gtf", "", "fragments: GTF annotation; adds tsse and frac_in_tss to obs")
	flags.Int64Var(&f.tssWindow, "tss-window", fragments.DefaultTSSWindow, "fragments: flank around each TSS in bp")
	flags.StringVar(&f.peaks, "peaks", "", "fragments: BED file of regions; adds frip to obs")
	flags.StringVar(&f.whitelist, "whitelist", "", "fragments: file with one barcode per line to keep")
	flags.StringVar(&f.target, "target", "/obs", "parquet: element path of the table")
	return cmd
}

func newAdapter(e *env, format string, f importFlags) (adapter.Adapter, error) {
	switch format {
	case "mtx":
		opts := []mtx.Option{mtx.WithResourceController(e.rc)}
		if f.transpose {
			opts = append(opts, mtx.WithTranspose())
		}
		return mtx.New(opts...), nil
	case "10x":
		opts := []tenx.Option{tenx.WithResourceController(e.rc)}
		if f.geneIDs {
			opts = append(opts, tenx.WithVarNames(tenx.GeneIDs))
		}
		return tenx.New(opts...), nil
	case "fragments":
		if f.genome == "" {
			return nil, errors.New("fragments import needs --genome")
		}
		genome, err := readWith(f.genome, fragments.ReadChromSizes)
		if err != nil {
			return nil, err
		}
		opts := []fragments.Option{
			fragments.WithBinSize(f.binSize),
			fragments.WithMinFragments(f.minFragments),
			fragments.WithMaxFragmentSize(f.maxFragSize),
			fragments.WithResourceController(e.rc),
		}
		if f.gtf != "" {
			sites, err := readWith(f.gtf, fragments.ReadTSS)
			if err != nil {
				return nil, err
			}
			opts = append(opts, fragments.WithTSS(sites), fragments.WithTSSWindow(f.tssWindow))
		}
		if f.peaks != "" {
			regions, err := readWith(f.peaks, fragments.ReadBED)
			if err != nil {
				return nil, err
			}
			opts = append(opts, fragments.WithRegions(regions))
		}
		if f.whitelist != "" {
			barcodes, err := readWith(f.whitelist, readLines)
			if err != nil {
				return nil, err
			}
			opts = append(opts, fragments.WithWhitelist(barcodes...))
		}
		return fragments.New(genome, opts...), nil
	case "parquet":
		return parquet.New(f.target), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func readWith[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	r, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer r.Close()
	v, err := parse(r)
	if err != nil {
		return v, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
