/*Package flumpy converts between flex grids and ndarray arrays without copying.

Every conversion produces a new view descriptor over the memory of its input,
so a write through the grid is visible through the array and vice versa.  The
one exception is MatrixFromDense given a non-contiguous array, which has to
compact the data into a fresh buffer; it reports which path it took.

Converting a value that is already in the destination representation returns
it unchanged, and converting a view straight back to the thing it is a view of
returns the original object, so chains of conversions never nest:

	g, _ := flex.New(flex.Int, 10)
	a, _ := flumpy.ToDense(flumpy.Grid(g))
	g2, _ := flumpy.FromDense(flumpy.Array(a)) // g2 == g

The package holds no state and takes no locks.  Callers sharing one buffer
between goroutines through both views must synchronize themselves.
*/
package flumpy

import (
	"fmt"
	"unsafe"

	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/ndarray"
)

// Value is either a grid or an array.  The zero Value holds neither.
type Value struct {
	grid  *flex.Grid
	array *ndarray.Array
}

// Grid wraps a grid as a Value
func Grid(g *flex.Grid) Value { return Value{grid: g} }

// Array wraps an array as a Value
func Array(a *ndarray.Array) Value { return Value{array: a} }

// AsGrid returns the grid held by v, if any
func (v Value) AsGrid() (*flex.Grid, bool) { return v.grid, v.grid != nil }

// AsArray returns the array held by v, if any
func (v Value) AsArray() (*ndarray.Array, bool) { return v.array, v.array != nil }

// Path reports how MatrixFromDense built its result
type Path int

const (
	// Aliased means the grid shares memory with the array
	Aliased Path = iota

	// Compacted means the grid owns a compacted copy of the array's data
	Compacted
)

func (p Path) String() string {
	if p == Compacted {
		return "compacted"
	}
	return "aliased"
}

// mapping is the dense layout of one grid kind
type mapping struct {
	dtype    ndarray.DType
	trailing []int
}

var kindTable = map[flex.Kind]mapping{
	flex.Uint8:         {ndarray.Uint8, nil},
	flex.Uint16:        {ndarray.Uint16, nil},
	flex.Uint32:        {ndarray.Uint32, nil},
	flex.SizeT:         {ndarray.Uint64, nil},
	flex.Int8:          {ndarray.Int8, nil},
	flex.Int16:         {ndarray.Int16, nil},
	flex.Int:           {ndarray.Int32, nil},
	flex.Long:          {ndarray.Int64, nil},
	flex.Float:         {ndarray.Float32, nil},
	flex.Double:        {ndarray.Float64, nil},
	flex.Bool:          {ndarray.Bool, nil},
	flex.ComplexDouble: {ndarray.Complex128, nil},
	flex.Vec2Double:    {ndarray.Float64, []int{2}},
	flex.TinySizeT2:    {ndarray.Uint64, []int{2}},
	flex.Vec3Double:    {ndarray.Float64, []int{3}},
	flex.Vec3Int:       {ndarray.Int32, []int{3}},
	flex.Mat3Double:    {ndarray.Float64, []int{9}},
}

// scalarKinds is the inverse of kindTable restricted to scalar kinds
var scalarKinds = map[ndarray.DType]flex.Kind{
	ndarray.Uint8:      flex.Uint8,
	ndarray.Uint16:     flex.Uint16,
	ndarray.Uint32:     flex.Uint32,
	ndarray.Uint64:     flex.SizeT,
	ndarray.Int8:       flex.Int8,
	ndarray.Int16:      flex.Int16,
	ndarray.Int32:      flex.Int,
	ndarray.Int64:      flex.Long,
	ndarray.Float32:    flex.Float,
	ndarray.Float64:    flex.Double,
	ndarray.Bool:       flex.Bool,
	ndarray.Complex128: flex.ComplexDouble,
}

// vectorKinds maps arity then dtype to a vector kind
var vectorKinds = map[int]map[ndarray.DType]flex.Kind{
	2: {ndarray.Float64: flex.Vec2Double, ndarray.Uint64: flex.TinySizeT2},
	3: {ndarray.Float64: flex.Vec3Double, ndarray.Int32: flex.Vec3Int},
}

// ToDense returns an array sharing memory with v.
// If v is already an array it is returned as is.
func ToDense(v Value) (*ndarray.Array, error) {
	if v.array != nil {
		return v.array, nil
	}
	g := v.grid
	if g == nil {
		return nil, ErrNilValue
	}
	m, ok := kindTable[g.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, g.Kind())
	}
	if a, ok := g.Base().(*ndarray.Array); ok && describes(a, g) {
		return a, nil
	}
	shape := append(g.All(), m.trailing...)
	return ndarray.NewView(m.dtype, g.Bytes(), shape, nil, 0, g)
}

// FromDense returns a grid sharing memory with v, choosing the scalar kind
// whose layout matches the array's dtype exactly.
// If v is already a grid it is returned as is.
func FromDense(v Value) (*flex.Grid, error) {
	if v.grid != nil {
		return v.grid, nil
	}
	a := v.array
	if a == nil {
		return nil, ErrNilValue
	}
	kind, ok := scalarKinds[a.DType()]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDType, a.DType())
	}
	if g := viewedGrid(a, kind); g != nil {
		return g, nil
	}
	shape := a.Shape()
	if len(shape) == 0 {
		shape = []int{1}
	}
	return alias(a, kind, shape)
}

// VectorFromDense returns a vec2 or vec3 grid sharing memory with a, whose
// last axis must have extent arity.  The grid's shape is the array's with
// the last axis removed.
func VectorFromDense(a *ndarray.Array, arity int) (*flex.Grid, error) {
	if a == nil {
		return nil, ErrNilValue
	}
	byDType, ok := vectorKinds[arity]
	if !ok {
		return nil, fmt.Errorf("%w: arity %d, want 2 or 3", ErrShapeMismatch, arity)
	}
	shape := a.Shape()
	n := len(shape)
	if n == 0 || shape[n-1] != arity {
		return nil, fmt.Errorf("%w: shape %v for arity %d", ErrShapeMismatch, shape, arity)
	}
	kind, ok := byDType[a.DType()]
	if !ok {
		return nil, fmt.Errorf("%w: %v for vec%d", ErrUnsupportedDType, a.DType(), arity)
	}
	if g := viewedGrid(a, kind); g != nil {
		return g, nil
	}
	return alias(a, kind, logical(shape[:n-1]))
}

// MatrixFromDense returns a mat3_double grid built from a float64 array
// whose shape ends in (3, 3) or (9).  A contiguous array is aliased; any
// other is compacted into a new buffer owned by the grid, and the returned
// Path says which happened.
func MatrixFromDense(a *ndarray.Array) (*flex.Grid, Path, error) {
	if a == nil {
		return nil, Aliased, ErrNilValue
	}
	shape := a.Shape()
	n := len(shape)
	var lead []int
	switch {
	case n >= 2 && shape[n-2] == 3 && shape[n-1] == 3:
		lead = shape[:n-2]
	case n >= 1 && shape[n-1] == 9:
		lead = shape[:n-1]
	default:
		return nil, Aliased, fmt.Errorf("%w: shape %v for mat3", ErrShapeMismatch, shape)
	}
	if a.DType() != ndarray.Float64 {
		return nil, Aliased, fmt.Errorf("%w: %v for mat3, want %v", ErrUnsupportedDType, a.DType(), ndarray.Float64)
	}
	if g := viewedGrid(a, flex.Mat3Double); g != nil {
		return g, Aliased, nil
	}
	lead = logical(lead)
	if a.IsContiguous() {
		g, err := alias(a, flex.Mat3Double, lead)
		return g, Aliased, err
	}
	c := a.Copy()
	b, err := c.Bytes()
	if err != nil {
		return nil, Compacted, err
	}
	g, err := flex.NewView(flex.Mat3Double, b, nil, lead...)
	return g, Compacted, err
}

// logical gives a grid shape for leading axes; an element with no leading
// axes is a one element, one dimensional grid
func logical(lead []int) []int {
	if len(lead) == 0 {
		return []int{1}
	}
	return lead
}

// alias builds a grid of kind over the memory of a contiguous array
func alias(a *ndarray.Array, kind flex.Kind, shape []int) (*flex.Grid, error) {
	b, err := a.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: strides %v", ErrNotContiguous, a.Strides())
	}
	if len(b) > 0 && uintptr(unsafe.Pointer(&b[0]))%uintptr(kind.ScalarSize()) != 0 {
		return nil, fmt.Errorf("%w: %v at offset %d", ErrMisaligned, kind, a.Offset())
	}
	return flex.NewView(kind, b, a, shape...)
}

// viewedGrid returns the grid a was made from when a is exactly the dense
// view ToDense gives for it and the grid holds kind
func viewedGrid(a *ndarray.Array, kind flex.Kind) *flex.Grid {
	g, ok := a.Base().(*flex.Grid)
	if !ok || g.Kind() != kind || !describes(a, g) {
		return nil
	}
	return g
}

// describes reports whether a is the dense layout of g over the same memory
func describes(a *ndarray.Array, g *flex.Grid) bool {
	m, ok := kindTable[g.Kind()]
	if !ok || a.DType() != m.dtype {
		return false
	}
	want := append(g.All(), m.trailing...)
	got := a.Shape()
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	b, err := a.Bytes()
	if err != nil {
		return false
	}
	return sameMemory(b, g.Bytes())
}

func sameMemory(x, y []byte) bool {
	if len(x) != len(y) {
		return false
	}
	if len(x) == 0 {
		return true
	}
	return unsafe.Pointer(&x[0]) == unsafe.Pointer(&y[0])
}
