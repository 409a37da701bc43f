package ndarray

import "errors"

var (
	// ErrBadShape is returned when a shape has negative extents or does not
	// match the number of elements available
	ErrBadShape = errors.New("ndarray: invalid shape")

	// ErrBadDType is returned for an unknown element type, or when a typed
	// view is requested with a Go type that does not match the array
	ErrBadDType = errors.New("ndarray: invalid dtype")

	// ErrNotContiguous is returned by operations that need a C-contiguous array
	ErrNotContiguous = errors.New("ndarray: array is not C-contiguous")

	// ErrOutOfBounds is returned when a view would reach outside its buffer
	ErrOutOfBounds = errors.New("ndarray: view exceeds backing buffer")

	// ErrBadAxis is returned for an axis argument outside [0, ndim)
	ErrBadAxis = errors.New("ndarray: axis out of range")
)
