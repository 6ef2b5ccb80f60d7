package anndata

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

// Concat materializes the vertical concatenation of containers as a new
// container on dst. The var axis is joined as for a dataset, and join
// failures are reported before anything is written.
//
// obs tables are stacked with a label column; var rows come from the first
// container holding each name. X, and the layers and obsm keys present in
// every container, are stacked. obsp, varp, varm and uns are not merged.
func Concat(ctx context.Context, dst blobstore.BlobStore, containers []*AnnData, opts ...Option) (_ *AnnData, err error) {
	o := applyOptions(opts)
	nObs, nVar := 0, 0
	defer func() { o.logger.LogConcat(ctx, len(containers), nObs, nVar, err) }()

	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrOutOfRange)
	}
	keys := o.keys
	if keys == nil {
		keys = make([]string, len(containers))
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
	}
	if len(keys) != len(containers) {
		return nil, lengthMismatch("concat keys", len(containers), len(keys))
	}
	members := make([]member, len(containers))
	vars := make([][]string, len(containers))
	for i, ad := range containers {
		if slices.Contains(keys[:i], keys[i]) {
			return nil, fmt.Errorf("%w: concat key %q", ErrDuplicateName, keys[i])
		}
		if members[i], err = newMember(ctx, keys[i], ad); err != nil {
			return nil, err
		}
		vars[i] = members[i].varNames
		nObs += ad.NObs()
	}
	join, err := joinVars(o.join, keys, vars)
	if err != nil {
		return nil, err
	}
	nVar = len(join.names)

	obs, err := concatObs(ctx, members, o)
	if err != nil {
		return nil, err
	}
	vr, err := joinedVar(ctx, members, join)
	if err != nil {
		return nil, err
	}
	hasX := 0
	for _, m := range members {
		if m.ad.Store().Exists("/X") {
			hasX++
		}
	}
	if hasX != 0 && hasX != len(members) {
		return nil, &SchemaError{Reason: "X is missing in some containers"}
	}

	return create(ctx, dst, nObs, nVar, o, func(b *cas.Batch) error {
		if err := frame.WriteFrame(ctx, b, "/obs", obs); err != nil {
			return err
		}
		if err := frame.WriteFrame(ctx, b, "/var", vr); err != nil {
			return err
		}
		if hasX > 0 {
			if err := stackMatrix(ctx, b, members, join, "/X", o); err != nil {
				return err
			}
		}
		for _, key := range commonKeys(members, collLayers) {
			if err := stackMatrix(ctx, b, members, join, collLayers.path(key), o); err != nil {
				return err
			}
		}
		for _, key := range commonKeys(members, collObsm) {
			if err := stackObsm(ctx, b, members, collObsm.path(key), o); err != nil {
				return err
			}
		}
		return nil
	})
}

func concatObs(ctx context.Context, members []member, o options) (*frame.Frame, error) {
	frames := make([]*frame.Frame, len(members))
	keys := make([]string, len(members))
	for i, m := range members {
		tbl, err := m.ad.Obs()
		if err != nil {
			return nil, err
		}
		if frames[i], err = tbl.Load(ctx); err != nil {
			return nil, fmt.Errorf("container %q obs: %w", m.key, err)
		}
		keys[i] = m.key
	}
	return frame.Concat(frames, frame.ConcatOptions{Keys: keys, Label: o.label, IndexSeparator: o.indexSep})
}

// joinedVar builds the var table of the joined axis. Each logical row is
// taken from the first member holding the name; since logical names are
// ordered by first appearance, stacking the members' contributions yields
// logical order.
func joinedVar(ctx context.Context, members []member, join *varJoin) (*frame.Frame, error) {
	sourced := make([]bool, len(join.names))
	var parts []*frame.Frame
	for i, m := range members {
		var rows []int
		for c := range m.varNames {
			l := c
			if join.colMaps[i] != nil {
				l = join.colMaps[i][c]
			}
			if l >= 0 && !sourced[l] {
				sourced[l] = true
				rows = append(rows, c)
			}
		}
		if len(rows) == 0 {
			continue
		}
		tbl, err := m.ad.Var()
		if err != nil {
			return nil, err
		}
		f, err := tbl.Take(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("container %q var: %w", m.key, err)
		}
		parts = append(parts, f)
	}
	if len(parts) == 0 {
		return frame.New([]string{})
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return frame.Concat(parts, frame.ConcatOptions{})
}

// commonKeys returns the keys of c present in every member, in the order of
// the first member.
func commonKeys(members []member, c collection) []string {
	var common []string
	for i, m := range members {
		keys, err := m.ad.keys(c)
		if err != nil {
			return nil
		}
		if i == 0 {
			common = keys
			continue
		}
		common = slices.DeleteFunc(common, func(k string) bool { return !slices.Contains(keys, k) })
	}
	return common
}

// reserve accounts the materialized size of p in the resource controller.
func reserve(ctx context.Context, o options, st *cas.Store, p string) (int64, error) {
	info, err := st.Node(p)
	if err != nil {
		return 0, err
	}
	n := int64(info.DType.Size())
	for _, d := range info.Shape {
		n *= d
	}
	if info.Kind == cas.KindSparse {
		n = 0
	}
	if n > 0 {
		if err := o.rc.AcquireMemory(ctx, n); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func stackMatrix(ctx context.Context, b *cas.Batch, members []member, join *varJoin, p string, o options) error {
	parts := make([]cas.Matrix, len(members))
	var held int64
	defer func() { o.rc.ReleaseMemory(held) }()
	for i, m := range members {
		n, err := reserve(ctx, o, m.ad.Store(), p)
		if err != nil {
			return err
		}
		held += n
		mat, err := m.ad.Store().ReadSlice(ctx, p, cas.All(), cas.All())
		if err != nil {
			return fmt.Errorf("container %q %s: %w", m.key, p, err)
		}
		parts[i] = join.project(i, mat)
	}
	out, err := stack(parts)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return b.WriteArray(ctx, p, out, cas.CSR)
}

func stackObsm(ctx context.Context, b *cas.Batch, members []member, p string, o options) error {
	vals := make([]any, len(members))
	for i, m := range members {
		e, err := m.ad.node(p)
		if err != nil {
			return err
		}
		if vals[i], err = e.Read(ctx); err != nil {
			return fmt.Errorf("container %q %s: %w", m.key, p, err)
		}
	}
	switch vals[0].(type) {
	case *frame.Frame:
		frames := make([]*frame.Frame, len(vals))
		keys := make([]string, len(vals))
		for i, v := range vals {
			f, ok := v.(*frame.Frame)
			if !ok {
				return &SchemaError{Reason: fmt.Sprintf("%s has mixed element kinds", p)}
			}
			frames[i], keys[i] = f, members[i].key
		}
		f, err := frame.Concat(frames, frame.ConcatOptions{Keys: keys, IndexSeparator: o.indexSep})
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return frame.WriteFrame(ctx, b, p, f)
	case cas.Array:
		arrs := make([]cas.Array, len(vals))
		mixed := false
		for i, v := range vals {
			a, ok := v.(cas.Array)
			if !ok {
				return &SchemaError{Reason: fmt.Sprintf("%s has mixed element kinds", p)}
			}
			arrs[i] = a
			mixed = mixed || a.DType() != arrs[0].DType()
		}
		if mixed {
			for i, a := range arrs {
				f, err := cas.CastFloat64(a)
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				arrs[i] = f
			}
		}
		out, err := cas.Concat(arrs...)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return b.WriteArray(ctx, p, out, cas.EncodingNone)
	case cas.Matrix:
		mats := make([]cas.Matrix, len(vals))
		for i, v := range vals {
			m, ok := v.(cas.Matrix)
			if !ok {
				return &SchemaError{Reason: fmt.Sprintf("%s has mixed element kinds", p)}
			}
			mats[i] = m
		}
		out, err := stack(mats)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return b.WriteArray(ctx, p, out, cas.EncodingNone)
	default:
		o.logger.WarnContext(ctx, "skipping obsm element that cannot be stacked", "path", p)
		return nil
	}
}
