package ndarray

import (
	"fmt"
)

// view returns a new descriptor over the same memory, with a as its base
func (a *Array) view(shape, strides []int, offset int) *Array {
	return &Array{
		dtype:   a.dtype,
		shape:   shape,
		strides: strides,
		offset:  offset,
		buf:     a.buf,
		base:    a,
	}
}

// Index returns the sub-array at position i along the first axis.
// It panics if a is zero dimensional or i is out of range.
func (a *Array) Index(i int) *Array {
	if len(a.shape) == 0 {
		panic("ndarray: cannot index a zero dimensional array")
	}
	if i < 0 || i >= a.shape[0] {
		panic(fmt.Sprintf("ndarray: index %d is out of bounds for axis 0 with size %d", i, a.shape[0]))
	}
	return a.view(append([]int{}, a.shape[1:]...), append([]int{}, a.strides[1:]...), a.offset+i*a.strides[0])
}

// Reshape returns a view with a new shape holding the same number of
// elements.  One extent may be -1, in which case it is inferred.
// Only contiguous arrays can be reshaped.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if !a.IsContiguous() {
		return nil, ErrNotContiguous
	}
	shape = append([]int{}, shape...)
	infer := -1
	known := 1
	for i, s := range shape {
		switch {
		case s == -1 && infer == -1:
			infer = i
		case s < 0:
			return nil, fmt.Errorf("%w: %v", ErrBadShape, shape)
		default:
			known *= s
		}
	}
	if infer >= 0 {
		if known == 0 || a.Size()%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrBadShape, a.shape, shape)
		}
		shape[infer] = a.Size() / known
	}
	if err := checkShape(shape, a.dtype.Size()); err != nil {
		return nil, err
	}
	if product(shape) != a.Size() {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrBadShape, a.shape, shape)
	}
	return a.view(shape, ContiguousStrides(shape, a.dtype.Size()), a.offset), nil
}

// Step returns a view taking every step'th element along axis, the
// equivalent of a[..., ::step, ...].  The result is generally not contiguous.
func (a *Array) Step(axis, step int) (*Array, error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("%w: %d for %d axes", ErrBadAxis, axis, len(a.shape))
	}
	if step < 1 {
		return nil, fmt.Errorf("%w: step %d must be positive", ErrBadShape, step)
	}
	shape := a.Shape()
	strides := a.Strides()
	shape[axis] = (shape[axis] + step - 1) / step
	strides[axis] *= step
	return a.view(shape, strides, a.offset), nil
}

// Transpose permutes the axes of a.  With no arguments the axes are reversed.
func (a *Array) Transpose(axes ...int) (*Array, error) {
	n := len(a.shape)
	if len(axes) == 0 {
		axes = make([]int, n)
		for i := range axes {
			axes[i] = n - 1 - i
		}
	}
	if len(axes) != n {
		return nil, fmt.Errorf("%w: %d axes given for %d dimensions", ErrBadAxis, len(axes), n)
	}
	seen := make([]bool, n)
	shape := make([]int, n)
	strides := make([]int, n)
	for i, ax := range axes {
		if ax < 0 || ax >= n || seen[ax] {
			return nil, fmt.Errorf("%w: bad permutation %v", ErrBadAxis, axes)
		}
		seen[ax] = true
		shape[i] = a.shape[ax]
		strides[i] = a.strides[ax]
	}
	return a.view(shape, strides, a.offset), nil
}

// Copy returns a contiguous copy of a which owns its memory
func (a *Array) Copy() *Array {
	out, _ := New(a.dtype, a.shape...)
	size := a.dtype.Size()
	dst := 0
	a.Each(func(idx []int) {
		src := a.byteOffset(idx)
		copy(out.buf[dst:dst+size], a.buf[src:src+size])
		dst += size
	})
	return out
}
