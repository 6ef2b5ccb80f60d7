package anndata

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

// Subset writes the rows in obsMask and the columns in varMask of every
// axis-aligned element into a new container on dst. A nil mask keeps the
// whole axis. uns is copied unchanged.
//
// The new container is published in a single commit. If anything fails,
// the blobs written so far are removed and dst holds no container.
func (a *AnnData) Subset(ctx context.Context, dst blobstore.BlobStore, obsMask, varMask *roaring.Bitmap, opts ...Option) (_ *AnnData, err error) {
	start := time.Now()
	elements := 0
	nObs, nVar := 0, 0
	defer func() {
		a.metrics.RecordSubset(time.Since(start), err)
		a.logger.LogSubset(ctx, nObs, nVar, elements, err)
	}()

	if obsMask == nil {
		obsMask = maskAll(a.nObs)
	}
	if varMask == nil {
		varMask = maskAll(a.nVar)
	}
	obsIdx, err := frame.MaskIndices(obsMask, a.nObs)
	if err != nil {
		return nil, fmt.Errorf("obs mask: %w", err)
	}
	varIdx, err := frame.MaskIndices(varMask, a.nVar)
	if err != nil {
		return nil, fmt.Errorf("var mask: %w", err)
	}
	nObs, nVar = len(obsIdx), len(varIdx)

	o := a.opts
	o.storeOpts = slices.Clone(o.storeOpts)
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	pick := func(x axis) []int {
		switch x {
		case axisObs:
			return obsIdx
		case axisVar:
			return varIdx
		default:
			return nil
		}
	}

	return create(ctx, dst, nObs, nVar, o, func(b *cas.Batch) error {
		for _, t := range []struct {
			path string
			rows []int
		}{{"/obs", obsIdx}, {"/var", varIdx}} {
			tbl, err := frame.OpenTable(a.st, t.path)
			if err != nil {
				return err
			}
			f, err := tbl.Take(ctx, t.rows)
			if err != nil {
				return fmt.Errorf("%s: %w", t.path, err)
			}
			if err := frame.WriteFrame(ctx, b, t.path, f); err != nil {
				return err
			}
			elements++
		}
		if a.st.Exists("/X") {
			if err := a.copySelected(ctx, b, "/X", obsIdx, varIdx); err != nil {
				return err
			}
			elements++
		}
		for _, c := range collections {
			keys, err := a.keys(c)
			if err != nil {
				return err
			}
			for _, k := range keys {
				p := c.path(k)
				rows, cols := pick(c.rows), pick(c.cols)
				if rows == nil && cols == nil {
					err = copyTree(ctx, a.st, b, p)
				} else {
					err = a.copySelected(ctx, b, p, rows, cols)
				}
				if err != nil {
					return err
				}
				elements++
			}
		}
		return nil
	})
}

// copySelected stages the selected rows and columns of the node at p.
func (a *AnnData) copySelected(ctx context.Context, b *cas.Batch, p string, rows, cols []int) error {
	info, err := a.st.Node(p)
	if err != nil {
		return err
	}
	if info.Kind == cas.KindGroup {
		tbl, err := frame.OpenTable(a.st, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		f, err := tbl.Take(ctx, rows)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return frame.WriteFrame(ctx, b, p, f)
	}
	if len(info.Shape) < 2 {
		cols = nil
	}
	v, err := a.st.Take(ctx, p, rows, cols)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return b.WriteArrayAttrs(ctx, p, v, info.Encoding, info.Attrs)
}

// copyTree stages the node at p and everything below it from src.
func copyTree(ctx context.Context, src *cas.Store, b *cas.Batch, p string) error {
	info, err := src.Node(p)
	if err != nil {
		return err
	}
	if info.Kind != cas.KindGroup {
		v, err := src.ReadAll(ctx, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return b.WriteArrayAttrs(ctx, p, v, info.Encoding, info.Attrs)
	}
	if err := b.CreateGroup(p, info.Attrs); err != nil {
		return err
	}
	children, err := src.ListChildren(p)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyTree(ctx, src, b, cas.Join(p, c)); err != nil {
			return err
		}
	}
	return nil
}
