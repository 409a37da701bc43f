/*Package ndarray is a small dense N-dimensional array in the mould of numpy.

An Array is a view descriptor: a dtype, a shape, byte strides and an offset
into a backing []byte.  Many Arrays may describe the same buffer, and writes
through any of them are visible through all of the others.  Arrays built over
memory owned by something else remember that owner, which is returned by Base.

Only the subset of numpy needed to move data around is implemented; there is
no arithmetic.
*/
package ndarray

import (
	"fmt"
	"math"
	"unsafe"
)

// Array is a strided view of a byte buffer.  It is not thread safe, and
// neither is the memory it shares with other views.
type Array struct {
	dtype   DType
	shape   []int
	strides []int
	offset  int
	buf     []byte

	// base is the object whose memory this array describes, nil if the array
	// allocated its own buffer
	base interface{}
}

// alloc returns n zeroed bytes aligned for any dtype
func alloc(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// checkShape rejects negative extents and shapes too large for their size
// in bytes to be represented as an int
func checkShape(shape []int, itemsize int) error {
	for _, s := range shape {
		if s < 0 {
			return fmt.Errorf("%w: %v", ErrBadShape, shape)
		}
	}
	n := itemsize
	for _, s := range shape {
		if s == 0 {
			return nil
		}
		if n > math.MaxInt/s {
			return fmt.Errorf("%w: %v overflows", ErrBadShape, shape)
		}
		n *= s
	}
	return nil
}

// ValidShape reports whether an array of dt with this shape could be
// allocated: no negative extents, and a size in bytes that fits in an int
func ValidShape(dt DType, shape ...int) error {
	if !dt.Valid() {
		return fmt.Errorf("%w: %v", ErrBadDType, dt)
	}
	return checkShape(shape, dt.Size())
}

// ContiguousStrides returns the row-major byte strides for shape
func ContiguousStrides(shape []int, itemsize int) []int {
	strides := make([]int, len(shape))
	acc := itemsize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		if shape[i] > 0 {
			acc *= shape[i]
		}
	}
	return strides
}

// New allocates a zeroed, contiguous array
func New(dt DType, shape ...int) (*Array, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrBadDType, dt)
	}
	if err := checkShape(shape, dt.Size()); err != nil {
		return nil, err
	}
	return &Array{
		dtype:   dt,
		shape:   append([]int{}, shape...),
		strides: ContiguousStrides(shape, dt.Size()),
		buf:     alloc(product(shape) * dt.Size()),
	}, nil
}

// Wrap builds an array over the memory of data without copying it.
// With no shape the array is one dimensional.
func Wrap[T Scalar](data []T, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if err := checkShape(shape, 1); err != nil {
		return nil, err
	}
	if product(shape) != len(data) {
		return nil, fmt.Errorf("%w: %v does not hold %d elements", ErrBadShape, shape, len(data))
	}
	dt := DTypeOf[T]()
	var buf []byte
	if len(data) == 0 {
		buf = []byte{}
	} else {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*dt.Size())
	}
	return &Array{
		dtype:   dt,
		shape:   append([]int{}, shape...),
		strides: ContiguousStrides(shape, dt.Size()),
		buf:     buf,
	}, nil
}

// NewView describes buf with the given layout.  nil strides means
// row-major contiguous.  base is recorded as the owner of buf.
func NewView(dt DType, buf []byte, shape, strides []int, offset int, base interface{}) (*Array, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrBadDType, dt)
	}
	if err := checkShape(shape, dt.Size()); err != nil {
		return nil, err
	}
	if strides == nil {
		strides = ContiguousStrides(shape, dt.Size())
	}
	if len(strides) != len(shape) {
		return nil, fmt.Errorf("%w: %d strides for %d axes", ErrBadShape, len(strides), len(shape))
	}
	a := &Array{
		dtype:   dt,
		shape:   append([]int{}, shape...),
		strides: append([]int{}, strides...),
		offset:  offset,
		buf:     buf,
		base:    base,
	}
	if err := a.checkBounds(); err != nil {
		return nil, err
	}
	return a, nil
}

// checkBounds verifies every element of a lies inside buf
func (a *Array) checkBounds() error {
	if product(a.shape) == 0 {
		return nil
	}
	lo, hi := a.offset, a.offset
	for i, s := range a.shape {
		span := (s - 1) * a.strides[i]
		if span < 0 {
			lo += span
		} else {
			hi += span
		}
	}
	if lo < 0 || hi+a.dtype.Size() > len(a.buf) {
		return fmt.Errorf("%w: bytes [%d, %d) of %d", ErrOutOfBounds, lo, hi+a.dtype.Size(), len(a.buf))
	}
	return nil
}

// DType returns the element type
func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the shape
func (a *Array) Shape() []int { return append([]int{}, a.shape...) }

// Strides returns a copy of the byte strides
func (a *Array) Strides() []int { return append([]int{}, a.strides...) }

// Offset is the byte offset of the first element in the backing buffer
func (a *Array) Offset() int { return a.offset }

// NDim is the number of axes
func (a *Array) NDim() int { return len(a.shape) }

// Size is the number of elements
func (a *Array) Size() int { return product(a.shape) }

// NBytes is the number of bytes spanned by the elements, Size*itemsize
func (a *Array) NBytes() int { return a.Size() * a.dtype.Size() }

// Base returns the object whose memory the array describes, or nil
func (a *Array) Base() interface{} { return a.base }

// IsContiguous returns true if the elements are laid out in row-major order
// with no gaps.  Axes of extent one do not affect contiguity.
func (a *Array) IsContiguous() bool {
	if a.Size() == 0 {
		return true
	}
	expect := a.dtype.Size()
	for i := len(a.shape) - 1; i >= 0; i-- {
		if a.shape[i] == 1 {
			continue
		}
		if a.strides[i] != expect {
			return false
		}
		expect *= a.shape[i]
	}
	return true
}

// Bytes returns the memory holding the elements of a contiguous array.
// The slice aliases the array.
func (a *Array) Bytes() ([]byte, error) {
	if !a.IsContiguous() {
		return nil, ErrNotContiguous
	}
	n := a.NBytes()
	if n == 0 {
		return a.buf[:0:0], nil
	}
	return a.buf[a.offset : a.offset+n : a.offset+n], nil
}

// Values returns a typed slice aliasing a contiguous array
func Values[T Scalar](a *Array) ([]T, error) {
	dt := DTypeOf[T]()
	if dt != a.dtype {
		return nil, fmt.Errorf("%w: array is %v, not %v", ErrBadDType, a.dtype, dt)
	}
	b, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return []T{}, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/dt.Size()), nil
}

// byteOffset computes the position of idx in buf, panicking on a bad index
// the way slice indexing does
func (a *Array) byteOffset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for array of dimension %d", len(idx), len(a.shape)))
	}
	off := a.offset
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d is out of bounds for axis %d with size %d", v, i, a.shape[i]))
		}
		off += v * a.strides[i]
	}
	return off
}

func (a *Array) ptr(idx []int) unsafe.Pointer {
	return unsafe.Pointer(&a.buf[a.byteOffset(idx)])
}

func load[T any](p unsafe.Pointer) T { return *(*T)(p) }

func store[T any](p unsafe.Pointer, v T) { *(*T)(p) = v }
