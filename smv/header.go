/*Package smv reads and writes SMV images, the plain-text-header format
written by ADSC CCD detectors.

An SMV file is a header of the form

	{
	HEADER_BYTES=  512;
	DIM=2;
	BYTE_ORDER=little_endian;
	TYPE=unsigned_short;
	SIZE1=1024;
	SIZE2=1024;
	...
	}

padded to HEADER_BYTES, followed by SIZE1*SIZE2 raw pixels.  SIZE1 is the
fast axis.
*/
package smv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// BlockSize is the granularity of HEADER_BYTES
const BlockSize = 512

// LayoutKeys describe how the pixels are stored in the file rather than the
// experiment
var LayoutKeys = []string{"HEADER_BYTES", "DIM", "TYPE", "BYTE_ORDER"}

var (
	// ErrNotSMV is returned when a stream does not start with an SMV header
	ErrNotSMV = errors.New("smv: not an SMV image")

	// ErrMissingKey is returned when a required header key is absent
	ErrMissingKey = errors.New("smv: header key missing")

	// ErrBadValue is returned when a header value cannot be parsed
	ErrBadValue = errors.New("smv: bad header value")

	// ErrShortData is returned when the file holds fewer pixels than the
	// header promises, usually because the detector is still writing it
	ErrShortData = errors.New("smv: image data truncated")

	// ErrUnsupported is returned for pixel types or byte orders other than
	// unsigned_short in either endianness
	ErrUnsupported = errors.New("smv: unsupported pixel layout")
)

// Header is the ordered set of KEY=VALUE pairs of an SMV header
type Header struct {
	keys []string
	vals map[string]string
}

// NewHeader returns an empty header
func NewHeader() *Header {
	return &Header{vals: map[string]string{}}
}

// Set adds or replaces key
func (h *Header) Set(key, value string) {
	if _, ok := h.vals[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.vals[key] = value
}

// Get returns the raw value of key
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.vals[key]
	return v, ok
}

// Keys returns the keys in file order
func (h *Header) Keys() []string {
	return append([]string{}, h.keys...)
}

// String returns the value of key or ErrMissingKey
func (h *Header) String(key string) (string, error) {
	v, ok := h.vals[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return v, nil
}

// Float parses the value of key as a float64
func (h *Header) Float(key string) (float64, error) {
	s, err := h.String(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadValue, key, s)
	}
	return f, nil
}

// Int parses the value of key as an int
func (h *Header) Int(key string) (int, error) {
	s, err := h.String(key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadValue, key, s)
	}
	return i, nil
}

// Size is HEADER_BYTES, the offset of the pixel data
func (h *Header) Size() (int, error) {
	return h.Int("HEADER_BYTES")
}

// DetectorSN is the DETECTOR_SN serial number
func (h *Header) DetectorSN() (int, error) {
	return h.Int("DETECTOR_SN")
}

// IsSN442 returns true for ADSC instrument 442, which records its beam
// centre in the DENZO keys and has a fixed pedestal
func IsSN442(h *Header) bool {
	sn, err := h.DetectorSN()
	return err == nil && sn == 442
}

// Understand reports whether r starts with an SMV header.
// It consumes up to 128 bytes of r.
func Understand(r io.Reader) bool {
	buf := make([]byte, 128)
	n, _ := io.ReadFull(r, buf)
	buf = buf[:n]
	return bytes.HasPrefix(buf, []byte("{")) && bytes.Contains(buf, []byte("HEADER_BYTES"))
}

// ReadHeader reads and parses the header at the start of r, leaving r
// positioned at the first pixel
func ReadHeader(r io.Reader) (*Header, error) {
	block := make([]byte, BlockSize)
	if n, err := io.ReadFull(r, block); err != nil {
		// an empty file or a partial header is still being written
		if n == 0 || block[0] == '{' {
			return nil, fmt.Errorf("%w: header: %v", ErrShortData, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotSMV, err)
	}
	if block[0] != '{' || !bytes.Contains(block, []byte("HEADER_BYTES")) {
		return nil, ErrNotSMV
	}
	h := parse(block)
	size, err := h.Size()
	if err != nil {
		return nil, err
	}
	if size < BlockSize {
		return nil, fmt.Errorf("%w: HEADER_BYTES=%d", ErrBadValue, size)
	}
	if size > BlockSize {
		rest := make([]byte, size-BlockSize)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrShortData, err)
		}
		h = parse(append(block, rest...))
	}
	return h, nil
}

// parse reads KEY=VALUE; pairs between the braces
func parse(raw []byte) *Header {
	h := NewHeader()
	body := raw[1:]
	if end := bytes.IndexByte(body, '}'); end >= 0 {
		body = body[:end]
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ";")
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		h.Set(strings.TrimSpace(line[:eq]), strings.TrimSpace(line[eq+1:]))
	}
	return h
}

// encode renders the header padded with spaces to a multiple of BlockSize.
// HEADER_BYTES is rewritten to match.
func (h *Header) encode() []byte {
	body := func(size int) []byte {
		var b bytes.Buffer
		b.WriteString("{\n")
		fmt.Fprintf(&b, "HEADER_BYTES=%5d;\n", size)
		for _, k := range h.keys {
			if k == "HEADER_BYTES" {
				continue
			}
			fmt.Fprintf(&b, "%s=%s;\n", k, h.vals[k])
		}
		b.WriteString("}\f")
		return b.Bytes()
	}
	size := BlockSize
	for len(body(size)) > size {
		size += BlockSize
	}
	out := bytes.Repeat([]byte{' '}, size)
	copy(out, body(size))
	h.Set("HEADER_BYTES", strconv.Itoa(size))
	return out
}
