/*Package flex provides Grid, the typed N-dimensional container used by the
image and experiment model code.

A Grid has one element Kind and a logical shape, the "accessor" in flex
terms.  Its memory is a flat row-major byte buffer; for vector and matrix
kinds every logical element occupies Components() contiguous scalars, so the
physical buffer carries one more, implicit, trailing axis than All reports.

Grids never copy on construction from existing memory.  FromSlice and NewView
alias the memory they are given and the caller must not reallocate it while
the grid is in use.
*/
package flex

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	// ErrBadKind is returned for an unknown kind or a Go type that does not
	// match a grid's kind
	ErrBadKind = errors.New("flex: invalid or mismatched element kind")

	// ErrBadShape is returned for negative extents or a buffer whose size
	// does not match the shape
	ErrBadShape = errors.New("flex: invalid grid shape")
)

// Grid is a typed, row-major N-dimensional array
type Grid struct {
	kind Kind
	all  []int
	data []byte

	// base is the object whose memory the grid aliases, nil if owned
	base interface{}
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// checkDims rejects empty and negative dims, and dims whose size in bytes
// overflows an int
func checkDims(dims []int, elemSize int) error {
	if len(dims) == 0 {
		return fmt.Errorf("%w: a grid needs at least one dimension", ErrBadShape)
	}
	for _, d := range dims {
		if d < 0 {
			return fmt.Errorf("%w: %v", ErrBadShape, dims)
		}
	}
	n := elemSize
	for _, d := range dims {
		if d == 0 {
			return nil
		}
		if n > math.MaxInt/d {
			return fmt.Errorf("%w: %v overflows", ErrBadShape, dims)
		}
		n *= d
	}
	return nil
}

// New allocates a zeroed grid of the given kind and dimensions
func New(kind Kind, dims ...int) (*Grid, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrBadKind, kind)
	}
	if err := checkDims(dims, kind.ElemSize()); err != nil {
		return nil, err
	}
	n := product(dims) * kind.ElemSize()
	var data []byte
	if n == 0 {
		data = []byte{}
	} else {
		words := make([]uint64, (n+7)/8)
		data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
	}
	return &Grid{kind: kind, all: append([]int{}, dims...), data: data}, nil
}

// FromSlice builds a grid over the memory of data without copying.
// With no dims the grid is one dimensional.
func FromSlice[T Element](data []T, dims ...int) (*Grid, error) {
	if len(dims) == 0 {
		dims = []int{len(data)}
	}
	if err := checkDims(dims, 1); err != nil {
		return nil, err
	}
	if product(dims) != len(data) {
		return nil, fmt.Errorf("%w: %v does not hold %d elements", ErrBadShape, dims, len(data))
	}
	kind := KindOf[T]()
	var buf []byte
	if len(data) == 0 {
		buf = []byte{}
	} else {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*kind.ElemSize())
	}
	return &Grid{kind: kind, all: append([]int{}, dims...), data: buf}, nil
}

// NewView builds a grid of the given kind over data, which must hold exactly
// prod(dims) elements.  base is recorded as the owner of the memory.
func NewView(kind Kind, data []byte, base interface{}, dims ...int) (*Grid, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrBadKind, kind)
	}
	if err := checkDims(dims, kind.ElemSize()); err != nil {
		return nil, err
	}
	if want := product(dims) * kind.ElemSize(); want != len(data) {
		return nil, fmt.Errorf("%w: %v %v needs %d bytes, have %d", ErrBadShape, dims, kind, want, len(data))
	}
	if len(data) > 0 && uintptr(unsafe.Pointer(&data[0]))%uintptr(kind.ScalarSize()) != 0 {
		return nil, fmt.Errorf("%w: buffer is not aligned for %v", ErrBadShape, kind)
	}
	return &Grid{kind: kind, all: append([]int{}, dims...), data: data, base: base}, nil
}

// View returns a typed slice aliasing the grid's elements
func View[T Element](g *Grid) ([]T, error) {
	if k := KindOf[T](); k != g.kind {
		return nil, fmt.Errorf("%w: grid holds %v, not %v", ErrBadKind, g.kind, k)
	}
	if len(g.data) == 0 {
		return []T{}, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&g.data[0])), g.Size()), nil
}

// Kind returns the element kind
func (g *Grid) Kind() Kind { return g.kind }

// All returns a copy of the logical shape
func (g *Grid) All() []int { return append([]int{}, g.all...) }

// NDim is the number of logical dimensions
func (g *Grid) NDim() int { return len(g.all) }

// Size is the number of logical elements
func (g *Grid) Size() int { return product(g.all) }

// Bytes returns the grid's memory.  It aliases the grid.
func (g *Grid) Bytes() []byte { return g.data }

// Base returns the object whose memory the grid aliases, or nil
func (g *Grid) Base() interface{} { return g.base }

// Index converts a multi-dimensional index to a position in the slice
// returned by View.  It panics on a bad index.
func (g *Grid) Index(idx ...int) int {
	if len(idx) != len(g.all) {
		panic(fmt.Sprintf("flex: %d indices for grid of dimension %d", len(idx), len(g.all)))
	}
	pos := 0
	for i, v := range idx {
		if v < 0 || v >= g.all[i] {
			panic(fmt.Sprintf("flex: index %d out of range for dimension %d of size %d", v, i, g.all[i]))
		}
		pos = pos*g.all[i] + v
	}
	return pos
}

// CountTrue counts the true elements of a Bool grid
func (g *Grid) CountTrue() (int, error) {
	vals, err := View[bool](g)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range vals {
		if v {
			n++
		}
	}
	return n, nil
}
