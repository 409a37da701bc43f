// Package npy reads and writes arrays in numpy's *.npy format
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"

	"github.com/xtal-tools/dxlab/ndarray"
)

// npy file header must be a multiple of 64 bytes
const headerUnits = 64

// Magic starts every npy file
const Magic = "\x93NUMPY"

// ContentType is the MIME type the HTTP layer serves npy payloads as
const ContentType = "application/x-npy"

var (
	// ErrFormat is returned for a stream that is not a readable npy file
	ErrFormat = errors.New("npy: malformed file")

	// ErrDType is returned for a descr with no ndarray dtype
	ErrDType = errors.New("npy: unsupported descr")

	// ErrTooLarge is returned for a stream longer than MaxBytes
	ErrTooLarge = errors.New("npy: file too large")
)

// descr renders the numpy type string of dt, e.g. '<f8'
func descr(dt ndarray.DType) string {
	if dt.Size() == 1 {
		if dt == ndarray.Bool {
			return "|b1"
		}
		return fmt.Sprintf("|%c1", dt.Kind())
	}
	return fmt.Sprintf("<%c%d", dt.Kind(), dt.Size())
}

// parseDescr decodes a numpy type string, reporting whether the data is
// big endian
func parseDescr(s string) (ndarray.DType, bool, error) {
	if len(s) < 3 {
		return 0, false, fmt.Errorf("%w: %q", ErrDType, s)
	}
	var big bool
	switch s[0] {
	case '<', '|', '=':
	case '>':
		big = true
	default:
		return 0, false, fmt.Errorf("%w: %q", ErrDType, s)
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q", ErrDType, s)
	}
	for _, dt := range []ndarray.DType{
		ndarray.Bool, ndarray.Int8, ndarray.Uint8, ndarray.Int16, ndarray.Uint16,
		ndarray.Int32, ndarray.Uint32, ndarray.Int64, ndarray.Uint64,
		ndarray.Float16, ndarray.Float32, ndarray.Float64, ndarray.Complex64, ndarray.Complex128,
	} {
		if dt.Kind() == s[1] && dt.Size() == size {
			return dt, big && size > 1, nil
		}
	}
	return 0, false, fmt.Errorf("%w: %q", ErrDType, s)
}

func header(a *ndarray.Array) []byte {
	shape := a.Shape()
	dims := make([]string, len(shape))
	for i, s := range shape {
		dims[i] = strconv.Itoa(s)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr(a.DType()), tuple)

	const preheader = 10
	total := preheader + len(dict) + 1
	if rem := total % headerUnits; rem != 0 {
		total += headerUnits - rem
	}
	out := make([]byte, 0, total)
	out = append(out, Magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(total-preheader))
	out = append(out, dict...)
	out = append(out, bytes.Repeat([]byte{' '}, total-len(out)-1)...)
	return append(out, '\n')
}

// Write streams a as a version 1.0 npy file.  Non-contiguous arrays are
// compacted first.
func Write(w io.Writer, a *ndarray.Array) error {
	if !a.IsContiguous() {
		a = a.Copy()
	}
	b, err := a.Bytes()
	if err != nil {
		return err
	}
	if _, err = w.Write(header(a)); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// MaxBytes bounds the size of an npy stream Read accepts
var MaxBytes int64 = 1 << 30

// dataOffset returns where the array data starts in a complete npy file
func dataOffset(raw []byte) (int, error) {
	if len(raw) < 10 {
		return 0, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	switch raw[6] {
	case 1:
		return 10 + int(binary.LittleEndian.Uint16(raw[8:10])), nil
	case 2, 3:
		if len(raw) < 12 {
			return 0, fmt.Errorf("%w: truncated header", ErrFormat)
		}
		return 12 + int(binary.LittleEndian.Uint32(raw[8:12])), nil
	}
	return 0, fmt.Errorf("%w: version %d.%d", ErrFormat, raw[6], raw[7])
}

// decode reads n elements of type T through npyio, which handles the byte
// order, into a flat array owning them
func decode[T ndarray.Scalar](nr *npyio.Reader, n int) (*ndarray.Array, error) {
	data := make([]T, n)
	if err := nr.Read(&data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrFormat, err)
	}
	return ndarray.Wrap(data)
}

// decodeHalf copies float16 data, which npyio does not know, into a flat array
func decodeHalf(data []byte, n int, big bool) (*ndarray.Array, error) {
	a, err := ndarray.New(ndarray.Float16, n)
	if err != nil {
		return nil, err
	}
	buf, _ := a.Bytes()
	copy(buf, data)
	if big {
		swap(buf, 2)
	}
	return a, nil
}

// Read decodes an npy file of any version.  The result is always a
// C-contiguous array which owns its memory.  Streams larger than MaxBytes,
// or whose shape asks for more data than they hold, are rejected before
// any array is allocated.
func Read(r io.Reader) (*ndarray.Array, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, MaxBytes)
	}
	if len(raw) < len(Magic) || string(raw[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	nr, err := npyio.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	off, err := dataOffset(raw)
	if err != nil {
		return nil, err
	}
	if off > len(raw) {
		return nil, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	dt, big, err := parseDescr(nr.Header.Descr.Type)
	if err != nil {
		return nil, err
	}
	shape := nr.Header.Descr.Shape
	// validates the shape, overflow included, before anything is sized from it
	if err := ndarray.ValidShape(dt, shape...); err != nil {
		return nil, fmt.Errorf("%w: shape %v", ErrFormat, shape)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	if have := len(raw) - off; n*dt.Size() > have {
		return nil, fmt.Errorf("%w: data: shape %v needs %d bytes, have %d", ErrFormat, shape, n*dt.Size(), have)
	}

	var flat *ndarray.Array
	switch dt {
	case ndarray.Bool:
		flat, err = decode[bool](nr, n)
	case ndarray.Int8:
		flat, err = decode[int8](nr, n)
	case ndarray.Uint8:
		flat, err = decode[uint8](nr, n)
	case ndarray.Int16:
		flat, err = decode[int16](nr, n)
	case ndarray.Uint16:
		flat, err = decode[uint16](nr, n)
	case ndarray.Int32:
		flat, err = decode[int32](nr, n)
	case ndarray.Uint32:
		flat, err = decode[uint32](nr, n)
	case ndarray.Int64:
		flat, err = decode[int64](nr, n)
	case ndarray.Uint64:
		flat, err = decode[uint64](nr, n)
	case ndarray.Float16:
		flat, err = decodeHalf(raw[off:], n, big)
	case ndarray.Float32:
		flat, err = decode[float32](nr, n)
	case ndarray.Float64:
		flat, err = decode[float64](nr, n)
	case ndarray.Complex64:
		flat, err = decode[complex64](nr, n)
	case ndarray.Complex128:
		flat, err = decode[complex128](nr, n)
	}
	if err != nil {
		return nil, err
	}
	buf, _ := flat.Bytes()
	if dt == ndarray.Bool {
		// any nonzero byte is true; keep the stored form 0 or 1
		for i, b := range buf {
			if b > 1 {
				buf[i] = 1
			}
		}
	}
	if !nr.Header.Descr.Fortran || len(shape) < 2 {
		return flat.Reshape(shape...)
	}
	strides := make([]int, len(shape))
	acc := dt.Size()
	for i, s := range shape {
		strides[i] = acc
		acc *= s
	}
	f, err := ndarray.NewView(dt, buf, shape, strides, 0, flat)
	if err != nil {
		return nil, err
	}
	return f.Copy(), nil
}

func swap(b []byte, width int) {
	for i := 0; i+width <= len(b); i += width {
		for l, r := i, i+width-1; l < r; l, r = l+1, r-1 {
			b[l], b[r] = b[r], b[l]
		}
	}
}
