package cas

import (
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/internal/manifest"
)

// Kind is the kind of a node.
type Kind uint8

const (
	KindGroup Kind = iota + 1
	KindDense
	KindSparse
	KindScalar
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDense:
		return "dense"
	case KindSparse:
		return "sparse"
	case KindScalar:
		return "scalar"
	case KindCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Component roles.
const (
	roleData       = "data"
	roleIndptr     = "indptr"
	roleIndices    = "indices"
	roleCategories = "categories"
	roleCodes      = "codes"
)

// NodeInfo describes a node without reading its data.
type NodeInfo struct {
	Path     string
	Kind     Kind
	DType    DType
	Shape    []int64
	Encoding Encoding
	Attrs    codec.Attrs
}

// Rows returns the length of the first axis, or 0 for groups and scalars.
func (n NodeInfo) Rows() int64 {
	if len(n.Shape) == 0 {
		return 0
	}
	return n.Shape[0]
}

// Cols returns the length of the second axis, or 1 for 1-D nodes.
func (n NodeInfo) Cols() int64 {
	if len(n.Shape) < 2 {
		return 1
	}
	return n.Shape[1]
}

// CleanPath normalizes p to an absolute slash-separated path.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Join joins path elements.
func Join(elem ...string) string {
	return CleanPath(path.Join(elem...))
}

func parentOf(p string) string { return path.Dir(p) }

// isBelow reports whether p is a strict descendant of group.
func isBelow(p, group string) bool {
	if group == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, group+"/")
}

func componentOf(n *manifest.Node, role string) (manifest.Component, bool) {
	for _, c := range n.Components {
		if c.Role == role {
			return c, true
		}
	}
	return manifest.Component{}, false
}

// componentSpec lists the components a node of kind k must carry with their
// element types and expected lengths.
type componentSpec struct {
	role   string
	dtype  DType
	length int64 // -1: checked elsewhere
}

func expectedComponents(n *manifest.Node) ([]componentSpec, error) {
	dt := DType(n.DType)
	shape := n.Shape
	prod := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, corruptf("%s: negative dimension", n.Path)
		}
		prod *= d
	}

	switch Kind(n.Kind) {
	case KindGroup:
		return nil, nil
	case KindScalar:
		if len(shape) != 0 || !dt.Valid() {
			return nil, corruptf("%s: bad scalar metadata", n.Path)
		}
		return []componentSpec{{roleData, dt, 1}}, nil
	case KindDense:
		if len(shape) < 1 || len(shape) > 2 || !dt.Valid() {
			return nil, corruptf("%s: bad dense metadata", n.Path)
		}
		return []componentSpec{{roleData, dt, prod}}, nil
	case KindSparse:
		enc := Encoding(n.Encoding)
		if len(shape) != 2 || !dt.Valid() || (enc != CSR && enc != CSC) {
			return nil, corruptf("%s: bad sparse metadata", n.Path)
		}
		major := shape[0]
		if enc == CSC {
			major = shape[1]
		}
		return []componentSpec{
			{roleIndptr, Int64, major + 1},
			{roleIndices, Int64, -1},
			{roleData, dt, -1},
		}, nil
	case KindCategorical:
		if len(shape) != 1 || dt != String {
			return nil, corruptf("%s: bad categorical metadata", n.Path)
		}
		return []componentSpec{
			{roleCategories, String, -1},
			{roleCodes, Int32, shape[0]},
		}, nil
	default:
		return nil, corruptf("%s: unknown node kind %d", n.Path, n.Kind)
	}
}

// checkNode validates the metadata of n against its kind.
func checkNode(n *manifest.Node) error {
	if n.Path != CleanPath(n.Path) {
		return corruptf("node path %q is not canonical", n.Path)
	}
	specs, err := expectedComponents(n)
	if err != nil {
		return err
	}
	if len(n.Components) != len(specs) {
		return corruptf("%s: %d components, want %d", n.Path, len(n.Components), len(specs))
	}
	for _, sp := range specs {
		c, ok := componentOf(n, sp.role)
		if !ok {
			return corruptf("%s: missing %s component", n.Path, sp.role)
		}
		if sp.length >= 0 && c.Length != sp.length {
			return corruptf("%s: %s has %d elements, want %d", n.Path, sp.role, c.Length, sp.length)
		}
	}
	if Kind(n.Kind) == KindSparse {
		ind, _ := componentOf(n, roleIndices)
		data, _ := componentOf(n, roleData)
		if ind.Length != data.Length {
			return corruptf("%s: %d indices for %d values", n.Path, ind.Length, data.Length)
		}
	}
	return nil
}

func componentDType(n *manifest.Node, role string) DType {
	switch role {
	case roleIndptr, roleIndices:
		return Int64
	case roleCodes:
		return Int32
	case roleCategories:
		return String
	default:
		return DType(n.DType)
	}
}
