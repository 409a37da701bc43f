package ndarray

import (
	"unsafe"
)

// Float returns the element at idx converted to float64.
// Complex values return their real part, booleans 0 or 1.
func (a *Array) Float(idx ...int) float64 {
	p := a.ptr(idx)
	switch a.dtype {
	case Bool:
		if load[bool](p) {
			return 1
		}
		return 0
	case Float16:
		return float64(halfToFloat(load[uint16](p)))
	case Float32:
		return float64(load[float32](p))
	case Float64:
		return load[float64](p)
	case Complex64:
		return float64(real(load[complex64](p)))
	case Complex128:
		return real(load[complex128](p))
	}
	return float64(a.intAt(p))
}

// SetFloat stores v at idx, converting it to the array's dtype
func (a *Array) SetFloat(v float64, idx ...int) {
	p := a.ptr(idx)
	switch a.dtype {
	case Bool:
		store(p, v != 0)
	case Float16:
		store(p, floatToHalf(float32(v)))
	case Float32:
		store(p, float32(v))
	case Float64:
		store(p, v)
	case Complex64:
		store(p, complex(float32(v), 0))
	case Complex128:
		store(p, complex(v, 0))
	default:
		a.setIntAt(p, int64(v))
	}
}

// Int returns the element at idx converted to int64.  Floats truncate.
func (a *Array) Int(idx ...int) int64 {
	p := a.ptr(idx)
	switch a.dtype.Kind() {
	case 'f', 'c':
		return int64(a.Float(idx...))
	}
	return a.intAt(p)
}

// SetInt stores v at idx, converting it to the array's dtype
func (a *Array) SetInt(v int64, idx ...int) {
	switch a.dtype.Kind() {
	case 'f', 'c':
		a.SetFloat(float64(v), idx...)
		return
	}
	a.setIntAt(a.ptr(idx), v)
}

// Complex returns the element at idx as complex128
func (a *Array) Complex(idx ...int) complex128 {
	switch a.dtype {
	case Complex64:
		return complex128(load[complex64](a.ptr(idx)))
	case Complex128:
		return load[complex128](a.ptr(idx))
	}
	return complex(a.Float(idx...), 0)
}

// SetComplex stores v at idx.  For real dtypes the imaginary part is dropped.
func (a *Array) SetComplex(v complex128, idx ...int) {
	switch a.dtype {
	case Complex64:
		store(a.ptr(idx), complex64(v))
	case Complex128:
		store(a.ptr(idx), v)
	default:
		a.SetFloat(real(v), idx...)
	}
}

// Bool returns true if the element at idx is nonzero
func (a *Array) Bool(idx ...int) bool {
	if a.dtype == Bool {
		return load[bool](a.ptr(idx))
	}
	return a.Complex(idx...) != 0
}

// SetBool stores 1 or 0 at idx
func (a *Array) SetBool(v bool, idx ...int) {
	if a.dtype == Bool {
		store(a.ptr(idx), v)
		return
	}
	if v {
		a.SetInt(1, idx...)
	} else {
		a.SetInt(0, idx...)
	}
}

func (a *Array) intAt(p unsafe.Pointer) int64 {
	switch a.dtype {
	case Bool:
		if load[bool](p) {
			return 1
		}
		return 0
	case Int8:
		return int64(load[int8](p))
	case Uint8:
		return int64(load[uint8](p))
	case Int16:
		return int64(load[int16](p))
	case Uint16:
		return int64(load[uint16](p))
	case Int32:
		return int64(load[int32](p))
	case Uint32:
		return int64(load[uint32](p))
	case Int64:
		return load[int64](p)
	case Uint64:
		return int64(load[uint64](p))
	}
	return 0
}

func (a *Array) setIntAt(p unsafe.Pointer, v int64) {
	switch a.dtype {
	case Bool:
		store(p, v != 0)
	case Int8:
		store(p, int8(v))
	case Uint8:
		store(p, uint8(v))
	case Int16:
		store(p, int16(v))
	case Uint16:
		store(p, uint16(v))
	case Int32:
		store(p, int32(v))
	case Uint32:
		store(p, uint32(v))
	case Int64:
		store(p, v)
	case Uint64:
		store(p, uint64(v))
	}
}

// Each calls fn with every index of a in row-major order.  The index slice
// is reused between calls and must not be retained.
func (a *Array) Each(fn func(idx []int)) {
	Indices(a.shape, fn)
}

// Indices calls fn with every index of shape in row-major order
func Indices(shape []int, fn func(idx []int)) {
	if product(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		ax := len(shape) - 1
		for ; ax >= 0; ax-- {
			idx[ax]++
			if idx[ax] < shape[ax] {
				break
			}
			idx[ax] = 0
		}
		if ax < 0 {
			return
		}
	}
}

// CountNonzero returns the number of elements that are not zero (or false)
func (a *Array) CountNonzero() int {
	n := 0
	a.Each(func(idx []int) {
		if a.Bool(idx...) {
			n++
		}
	})
	return n
}

// Equal returns true if a and b have the same shape and equal values.
// dtypes may differ.
func Equal(a, b *Array) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	eq := true
	a.Each(func(idx []int) {
		if eq && a.Complex(idx...) != b.Complex(idx...) {
			eq = false
		}
	})
	return eq
}
