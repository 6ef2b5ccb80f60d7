// Package anndata stores large annotated matrices (cells x features) in a
// backed container that is read lazily, slice by slice, from local disk or
// object storage.
//
// A container holds a primary matrix X of n_obs x n_var, the obs and var
// annotation tables and keyed auxiliary elements: obsm, varm, layers, obsp,
// varp and uns. Every write is validated against the container shape and
// published atomically through a new manifest version.
//
// # Quick Start
//
//	ctx := context.Background()
//	ad, _ := anndata.Create(ctx, blobstore.NewLocalStore("./pbmc"), 3, 2)
//	defer ad.Close()
//
//	x, _ := cas.CSRFromTriples(3, 2, []int64{0, 2}, []int64{1, 0}, cas.Float32s{1, 5})
//	_ = ad.SetX(ctx, x, cas.CSR)
//
//	obs, _ := ad.Obs()
//	_ = obs.AppendColumn(ctx, "cell_type", frame.NewCategorical("B", "T", "B"))
//
// Reading back:
//
//	ad, _ := anndata.Read(ctx, "./pbmc")
//	x, _ := ad.X()
//	rows, _ := x.ReadRows(ctx, 0, 2)
//
// # Subsets and concatenation
//
// Subset writes the selected rows and columns of every axis-aligned element
// into a new container. Concat stacks containers into a new one, joining
// their var axes:
//
//	sub, _ := ad.Subset(ctx, dst, anndata.MaskRange(0, 100), nil)
//	all, _ := anndata.Concat(ctx, dst, []*anndata.AnnData{a, b},
//	    anndata.WithJoin(anndata.JoinUnion), anndata.WithKeys("a", "b"))
//
// # Datasets
//
// An AnnDataSet treats several containers as one without copying. Rows
// are numbered across members; reads fan out to the members concurrently:
//
//	ds, _ := anndata.ReadDataset(ctx, []string{"./a", "./b"})
//	defer ds.Close()
//	m, _ := ds.GetRows(ctx, 1000, 2000)
//
// # Import
//
// Import writes a container from a format adapter, e.g. a 10x directory:
//
//	ad, _ := anndata.Import(ctx, store, tenx.New(), "./filtered_feature_bc_matrix")
//
// # Concurrency
//
// A read-write container holds the writer lock of its store until Close;
// opening a second writer fails with ErrAlreadyLocked. Read-only handles
// never lock and see the manifest version current when they were opened.
package anndata
