package flumpy

import "errors"

// Conversions either succeed completely or fail with one of these before
// any view is built.  They describe bad input, not transient conditions,
// and are never retried.
var (
	// ErrUnsupportedKind is returned when a grid's element kind has no dense
	// representation
	ErrUnsupportedKind = errors.New("flumpy: unsupported flex element kind")

	// ErrUnsupportedDType is returned when an array's dtype has no grid kind
	// with exactly the same layout; nothing is widened or truncated
	ErrUnsupportedDType = errors.New("flumpy: unsupported array dtype")

	// ErrShapeMismatch is returned when the trailing axes of an array do not
	// fit a vector or matrix kind
	ErrShapeMismatch = errors.New("flumpy: trailing shape does not match element kind")

	// ErrNotContiguous is returned when an array that is not C-contiguous is
	// given to a conversion which can only alias
	ErrNotContiguous = errors.New("flumpy: array is not C-contiguous")

	// ErrMisaligned is returned when a contiguous array starts at an address
	// the grid kind cannot be read from, such as a view at an odd byte offset
	ErrMisaligned = errors.New("flumpy: array data is not aligned for the element kind")

	// ErrNilValue is returned for a Value holding neither a grid nor an array,
	// or a nil array
	ErrNilValue = errors.New("flumpy: empty value")
)
