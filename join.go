package anndata

import (
	"fmt"
	"slices"

	"github.com/hupe1980/anndata/cas"
)

// varJoin maps each member's var axis into the logical var space.
type varJoin struct {
	names []string
	// colMaps[i][j] is the logical column of member i's column j, or -1.
	// nil means identity.
	colMaps [][]int
	// sels[i][l] is member i's column for logical column l, or -1. nil
	// means identity.
	sels [][]int
}

func joinVars(policy JoinPolicy, keys []string, vars [][]string) (*varJoin, error) {
	j := &varJoin{colMaps: make([][]int, len(vars)), sels: make([][]int, len(vars))}
	if len(vars) == 0 {
		return j, nil
	}
	switch policy {
	case JoinInner:
		for i := 1; i < len(vars); i++ {
			if !slices.Equal(vars[i], vars[0]) {
				return nil, &SchemaError{Reason: fmt.Sprintf("var index of %q differs from %q (%d vs %d names)",
					keys[i], keys[0], len(vars[i]), len(vars[0]))}
			}
		}
		j.names = slices.Clone(vars[0])
		return j, nil
	case JoinUnion:
		pos := make(map[string]int)
		for _, names := range vars {
			for _, n := range names {
				if _, ok := pos[n]; !ok {
					pos[n] = len(j.names)
					j.names = append(j.names, n)
				}
			}
		}
		j.build(vars, pos)
		return j, nil
	case JoinIntersection:
		count := make(map[string]int)
		for _, names := range vars {
			for _, n := range names {
				count[n]++
			}
		}
		pos := make(map[string]int)
		for _, n := range vars[0] {
			if _, dup := pos[n]; !dup && count[n] == len(vars) {
				pos[n] = len(j.names)
				j.names = append(j.names, n)
			}
		}
		j.build(vars, pos)
		return j, nil
	default:
		return nil, fmt.Errorf("%w: join policy %d", ErrTypeMismatch, policy)
	}
}

func (j *varJoin) build(vars [][]string, pos map[string]int) {
	for i, names := range vars {
		colMap := make([]int, len(names))
		sel := make([]int, len(j.names))
		for l := range sel {
			sel[l] = -1
		}
		identity := len(names) == len(j.names)
		for c, n := range names {
			l, ok := pos[n]
			if !ok {
				colMap[c] = -1
				identity = false
				continue
			}
			colMap[c] = l
			sel[l] = c
			if l != c {
				identity = false
			}
		}
		if !identity {
			j.colMaps[i], j.sels[i] = colMap, sel
		}
	}
}

// project moves member i's matrix into the logical var space.
func (j *varJoin) project(i int, m cas.Matrix) cas.Matrix {
	if j.colMaps[i] == nil {
		return m
	}
	switch x := m.(type) {
	case *cas.Sparse:
		return x.RemapCols(j.colMaps[i], len(j.names))
	case *cas.Dense:
		return x.Select(nil, j.sels[i])
	default:
		return m
	}
}

// stack concatenates matrices vertically. Sparse parts stay sparse unless a
// dense part is present; differing element types are cast to float64.
func stack(parts []cas.Matrix) (cas.Matrix, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrTypeMismatch)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	dense, mixed := false, false
	dt := parts[0].DType()
	for _, p := range parts {
		if _, ok := p.(*cas.Dense); ok {
			dense = true
		}
		if p.DType() != dt {
			mixed = true
		}
	}
	if dense {
		ds := make([]*cas.Dense, len(parts))
		for i, p := range parts {
			var d *cas.Dense
			switch x := p.(type) {
			case *cas.Dense:
				d = x
			case *cas.Sparse:
				d = x.ToDense()
			}
			if mixed {
				data, err := cas.CastFloat64(d.Data)
				if err != nil {
					return nil, err
				}
				d = &cas.Dense{Rows: d.Rows, Cols: d.Cols, Data: data}
			}
			ds[i] = d
		}
		return cas.VStackDense(ds...)
	}
	ss := make([]*cas.Sparse, len(parts))
	for i, p := range parts {
		s := p.(*cas.Sparse)
		if mixed {
			data, err := cas.CastFloat64(s.Data)
			if err != nil {
				return nil, err
			}
			cp := *s
			cp.Data = data
			s = &cp
		}
		ss[i] = s
	}
	return cas.VStack(ss...)
}
