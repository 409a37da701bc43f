package ndarray

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// DType is the element type of an Array, spelled with the single
// character type codes numpy uses.
type DType byte

// Supported element types.
const (
	Bool       DType = '?'
	Int8       DType = 'b'
	Uint8      DType = 'B'
	Int16      DType = 'h'
	Uint16     DType = 'H'
	Int32      DType = 'i'
	Uint32     DType = 'I'
	Int64      DType = 'q'
	Uint64     DType = 'Q'
	Float16    DType = 'e'
	Float32    DType = 'f'
	Float64    DType = 'd'
	Complex64  DType = 'F'
	Complex128 DType = 'D'
)

type dtypeInfo struct {
	name string
	size int
	// kind is the numpy kind character: b(ool), i(nt), u(int), f(loat), c(omplex)
	kind byte
}

var dtypes = map[DType]dtypeInfo{
	Bool:       {"bool", 1, 'b'},
	Int8:       {"int8", 1, 'i'},
	Uint8:      {"uint8", 1, 'u'},
	Int16:      {"int16", 2, 'i'},
	Uint16:     {"uint16", 2, 'u'},
	Int32:      {"int32", 4, 'i'},
	Uint32:     {"uint32", 4, 'u'},
	Int64:      {"int64", 8, 'i'},
	Uint64:     {"uint64", 8, 'u'},
	Float16:    {"float16", 2, 'f'},
	Float32:    {"float32", 4, 'f'},
	Float64:    {"float64", 8, 'f'},
	Complex64:  {"complex64", 8, 'c'},
	Complex128: {"complex128", 16, 'c'},
}

// Valid returns true if d is one of the known element types
func (d DType) Valid() bool {
	_, ok := dtypes[d]
	return ok
}

// Size is the width of one element in bytes, or zero for an unknown dtype
func (d DType) Size() int {
	return dtypes[d].size
}

// Kind returns the numpy kind character of the dtype (b, i, u, f or c)
func (d DType) Kind() byte {
	return dtypes[d].kind
}

func (d DType) String() string {
	if info, ok := dtypes[d]; ok {
		return info.name
	}
	return fmt.Sprintf("dtype(%q)", byte(d))
}

// ParseDType accepts either a type character ("d") or a name ("float64")
func ParseDType(s string) (DType, error) {
	if len(s) == 1 {
		d := DType(s[0])
		if d.Valid() {
			return d, nil
		}
	}
	s = strings.ToLower(s)
	for d, info := range dtypes {
		if info.name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrBadDType, s)
}

// Scalar is the set of Go types that can back an Array
type Scalar interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64 | ~complex64 | ~complex128
}

// DTypeOf returns the dtype matching the Go type T.
// Float16 has no Go type and is never returned.
func DTypeOf[T Scalar]() DType {
	var z T
	switch reflect.TypeOf(z).Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Uint8:
		return Uint8
	case reflect.Int16:
		return Int16
	case reflect.Uint16:
		return Uint16
	case reflect.Int32:
		return Int32
	case reflect.Uint32:
		return Uint32
	case reflect.Int64:
		return Int64
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Complex64:
		return Complex64
	default:
		return Complex128
	}
}

// halfToFloat decodes an IEEE 754 binary16 value
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch exp {
	case 0:
		f := float32(mant) * (1.0 / (1 << 24))
		if sign != 0 {
			f = -f
		}
		return f
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// floatToHalf encodes f as binary16, truncating the mantissa
func floatToHalf(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	biased := int32(b>>23) & 0xff
	mant := b & 0x7fffff
	if biased == 0xff {
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	}
	exp := biased - 127 + 15
	switch {
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint(14-exp))
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}
