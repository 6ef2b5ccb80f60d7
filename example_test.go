package anndata_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

func newExample(ctx context.Context, cells []string, x *cas.Dense) *anndata.AnnData {
	ad, err := anndata.Create(ctx, blobstore.NewMemoryStore(), x.Rows, x.Cols)
	if err != nil {
		log.Fatal(err)
	}
	obs, err := frame.New(cells)
	if err != nil {
		log.Fatal(err)
	}
	if err := ad.SetObs(ctx, obs); err != nil {
		log.Fatal(err)
	}
	if err := ad.SetX(ctx, x, cas.EncodingNone); err != nil {
		log.Fatal(err)
	}
	return ad
}

// ExampleCreate writes a container and reads a row range back.
func ExampleCreate() {
	ctx := context.Background()
	x, _ := cas.NewDense(3, 2, cas.Float32s{1, 2, 3, 4, 5, 6})
	ad := newExample(ctx, []string{"c0", "c1", "c2"}, x)
	defer ad.Close()

	h, err := ad.X()
	if err != nil {
		log.Fatal(err)
	}
	rows, err := h.ReadRows(ctx, 1, 3)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rows.(*cas.Dense).Data)
	// Output: [3 4 5 6]
}

// ExampleAnnData_Subset copies a selection into a new container.
func ExampleAnnData_Subset() {
	ctx := context.Background()
	x, _ := cas.NewDense(3, 2, cas.Float32s{1, 2, 3, 4, 5, 6})
	ad := newExample(ctx, []string{"c0", "c1", "c2"}, x)
	defer ad.Close()

	sub, err := ad.Subset(ctx, blobstore.NewMemoryStore(), anndata.MaskFromBools([]bool{true, false, true}), anndata.MaskRange(1, 2))
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()

	n, m := sub.Shape()
	fmt.Println(n, m)
	// Output: 2 1
}

// ExampleNewDataSet reads across two containers without copying them.
func ExampleNewDataSet() {
	ctx := context.Background()
	xa, _ := cas.NewDense(2, 2, cas.Float32s{1, 2, 3, 4})
	xb, _ := cas.NewDense(1, 2, cas.Float32s{5, 6})
	a := newExample(ctx, []string{"a0", "a1"}, xa)
	defer a.Close()
	b := newExample(ctx, []string{"b0"}, xb)
	defer b.Close()

	ds, err := anndata.NewDataSet(ctx, []*anndata.AnnData{a, b}, anndata.WithKeys("a", "b"))
	if err != nil {
		log.Fatal(err)
	}
	defer ds.Close()

	rows, err := ds.GetRows(ctx, 1, 3)
	if err != nil {
		log.Fatal(err)
	}
	key, local, _ := ds.Locate(2)
	fmt.Println(rows.(*cas.Dense).Data, key, local)
	// Output: [3 4 5 6] b 0
}
