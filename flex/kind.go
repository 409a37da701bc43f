package flex

import "fmt"

// Kind is the declared element type of a Grid
type Kind int

// The closed set of element kinds.  The names follow the flex type names
// used by the crystallography toolkits the data comes from.
const (
	Invalid Kind = iota
	Uint8
	Uint16
	Uint32
	SizeT
	Int8
	Int16
	Int
	Long
	Float
	Double
	Bool
	ComplexDouble
	Vec2Double
	TinySizeT2
	Vec3Double
	Vec3Int
	Mat3Double
	SymMat3Double
)

// Scalar classes of the components of an element
const (
	ClassUnsigned = 'u'
	ClassSigned   = 'i'
	ClassFloat    = 'f'
	ClassBool     = 'b'
	ClassComplex  = 'c'
)

type kindInfo struct {
	name       string
	scalarSize int
	components int
	class      byte
}

var kinds = [...]kindInfo{
	Invalid:       {"invalid", 0, 0, 0},
	Uint8:         {"uint8", 1, 1, ClassUnsigned},
	Uint16:        {"uint16", 2, 1, ClassUnsigned},
	Uint32:        {"uint32", 4, 1, ClassUnsigned},
	SizeT:         {"size_t", 8, 1, ClassUnsigned},
	Int8:          {"int8", 1, 1, ClassSigned},
	Int16:         {"int16", 2, 1, ClassSigned},
	Int:           {"int", 4, 1, ClassSigned},
	Long:          {"long", 8, 1, ClassSigned},
	Float:         {"float", 4, 1, ClassFloat},
	Double:        {"double", 8, 1, ClassFloat},
	Bool:          {"bool", 1, 1, ClassBool},
	ComplexDouble: {"complex_double", 16, 1, ClassComplex},
	Vec2Double:    {"vec2_double", 8, 2, ClassFloat},
	TinySizeT2:    {"tiny_size_t_2", 8, 2, ClassUnsigned},
	Vec3Double:    {"vec3_double", 8, 3, ClassFloat},
	Vec3Int:       {"vec3_int", 4, 3, ClassSigned},
	Mat3Double:    {"mat3_double", 8, 9, ClassFloat},
	SymMat3Double: {"sym_mat3_double", 8, 6, ClassFloat},
}

func (k Kind) info() kindInfo {
	if k <= Invalid || int(k) >= len(kinds) {
		return kinds[Invalid]
	}
	return kinds[k]
}

// Valid returns true for every kind except Invalid and out of range values
func (k Kind) Valid() bool { return k.info().components > 0 }

// ScalarSize is the width in bytes of one component
func (k Kind) ScalarSize() int { return k.info().scalarSize }

// Components is the number of scalars in one element; 1 for plain kinds
func (k Kind) Components() int { return k.info().components }

// ElemSize is the width in bytes of one element
func (k Kind) ElemSize() int { return k.info().scalarSize * k.info().components }

// Class is the scalar class of the components, one of the Class constants
func (k Kind) Class() byte { return k.info().class }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return k.info().name
}

// ParseKind looks up a kind by its flex name, e.g. "vec3_double"
func ParseKind(name string) (Kind, error) {
	for k := Uint8; int(k) < len(kinds); k++ {
		if kinds[k].name == name {
			return k, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrBadKind, name)
}

// Vec2 is a vec2_double element
type Vec2 [2]float64

// Tiny2 is a tiny_size_t_2 element
type Tiny2 [2]uint64

// Vec3 is a vec3_double element
type Vec3 [3]float64

// IntVec3 is a vec3_int element
type IntVec3 [3]int32

// Mat3 is a row-major mat3_double element
type Mat3 [9]float64

// SymMat3 is a sym_mat3_double element, (xx, yy, zz, xy, xz, yz)
type SymMat3 [6]float64

// Element is the set of Go types whose memory layout matches a Kind
type Element interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 |
		float32 | float64 | bool | complex128 |
		Vec2 | Tiny2 | Vec3 | IntVec3 | Mat3 | SymMat3
}

// KindOf returns the kind stored by elements of type T
func KindOf[T Element]() Kind {
	var z T
	switch any(z).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return SizeT
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int
	case int64:
		return Long
	case float32:
		return Float
	case float64:
		return Double
	case bool:
		return Bool
	case complex128:
		return ComplexDouble
	case Vec2:
		return Vec2Double
	case Tiny2:
		return TinySizeT2
	case Vec3:
		return Vec3Double
	case IntVec3:
		return Vec3Int
	case Mat3:
		return Mat3Double
	case SymMat3:
		return SymMat3Double
	}
	return Invalid
}
