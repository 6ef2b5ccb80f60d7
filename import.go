package anndata

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

type importEntry struct {
	path       string
	coll       collection
	value      any
	rows, cols int
}

// Import parses source with a and writes the entries into a new container
// on store in one commit. The container shape is taken from X, obs or var,
// in that order of preference; obs and var default to a positional index.
// Entries are validated against the shape before anything is written.
func Import(ctx context.Context, store blobstore.BlobStore, a adapter.Adapter, source string, opts ...Option) (_ *AnnData, err error) {
	o := applyOptions(opts)
	var entries []importEntry
	defer func() { o.logger.LogImport(ctx, a.Name()+":"+source, len(entries), err) }()

	seen := make(map[string]bool)
	for e, perr := range a.Parse(ctx, source) {
		if perr != nil {
			return nil, fmt.Errorf("%s: %w", a.Name(), perr)
		}
		p := cas.CleanPath(e.Path)
		if seen[p] {
			return nil, fmt.Errorf("%w: entry %s", ErrDuplicateName, p)
		}
		seen[p] = true
		c, err := collectionOf(p)
		if err != nil {
			return nil, err
		}
		v, rows, cols, err := shapeOf(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		entries = append(entries, importEntry{path: p, coll: c, value: v, rows: rows, cols: cols})
	}

	nObs, nVar := -1, -1
	for _, e := range entries {
		if e.path == "/X" {
			nObs, nVar = e.rows, e.cols
		}
	}
	for _, e := range entries {
		switch {
		case e.path == "/obs" && nObs < 0:
			nObs = e.rows
		case e.path == "/var" && nVar < 0:
			nVar = e.rows
		}
	}
	if nObs < 0 && nVar < 0 {
		return nil, fmt.Errorf("%w: %s produced neither X, obs nor var", ErrNotFound, a.Name())
	}
	nObs, nVar = max(nObs, 0), max(nVar, 0)

	shape := &AnnData{nObs: nObs, nVar: nVar}
	for _, e := range entries {
		if err := shape.checkShape(e.coll, e.path, e.rows, e.cols); err != nil {
			return nil, err
		}
	}

	return create(ctx, store, nObs, nVar, o, func(b *cas.Batch) error {
		if !seen["/obs"] {
			if err := frame.WriteFrame(ctx, b, "/obs", frame.Range(nObs)); err != nil {
				return err
			}
		}
		if !seen["/var"] {
			if err := frame.WriteFrame(ctx, b, "/var", frame.Range(nVar)); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if err := stageElement(ctx, b, e.path, e.value, cas.EncodingNone); err != nil {
				return fmt.Errorf("%s: %w", e.path, err)
			}
		}
		return nil
	})
}

// collectionOf maps an element path to the axes it is bound to.
func collectionOf(p string) (collection, error) {
	top, rest, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	switch top {
	case "X":
		if rest == "" {
			return collection{"X", axisObs, axisVar}, nil
		}
	case "obs":
		if rest == "" {
			return collection{"obs", axisObs, axisNone}, nil
		}
	case "var":
		if rest == "" {
			return collection{"var", axisVar, axisNone}, nil
		}
	default:
		for _, c := range collections {
			if c.name == top && rest != "" {
				if c == collUns {
					return c, nil
				}
				if !strings.Contains(rest, "/") {
					return c, nil
				}
			}
		}
	}
	return collection{}, fmt.Errorf("%w: %s is not an element path", ErrTypeMismatch, p)
}
