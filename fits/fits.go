// Package fits exchanges dense arrays with FITS files
package fits

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/astrogo/fitsio"

	"github.com/xtal-tools/dxlab/ndarray"
)

// ContentType is the MIME type FITS payloads are served as
const ContentType = "image/fits"

// ErrDType is returned for arrays FITS cannot hold without loss
var ErrDType = errors.New("fits: unsupported dtype")

// structural cards are managed by fitsio and never passed through
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"NAXIS3": true, "NAXIS4": true, "EXTEND": true, "BZERO": true, "BSCALE": true, "END": true,
}

// KeyValuer is a text header, such as an SMV header
type KeyValuer interface {
	Keys() []string
	Get(key string) (string, bool)
}

// Cards converts the entries of h whose keys fit in a FITS card name, after a
// FILENAME card naming source.  Numeric values become numbers.  Keys in skip
// are left out.
func Cards(source string, h KeyValuer, skip ...string) []fitsio.Card {
	cards := []fitsio.Card{{Name: "FILENAME", Value: source, Comment: "source image"}}
outer:
	for _, k := range h.Keys() {
		if len(k) > 8 || structural[k] {
			continue
		}
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		v, _ := h.Get(k)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cards = append(cards, fitsio.Card{Name: k, Value: f})
			continue
		}
		cards = append(cards, fitsio.Card{Name: k, Value: v})
	}
	return cards
}

// reversed returns the array shape in FITS axis order, fastest first
func reversed(shape []int) []int {
	if len(shape) == 0 {
		return []int{1}
	}
	out := make([]int, len(shape))
	for i, s := range shape {
		out[len(shape)-1-i] = s
	}
	return out
}

// Write streams a single-HDU FITS file holding a to w.  Unsigned types are
// stored with the conventional BZERO offset; float16 is widened to float32.
func Write(w io.Writer, metadata []fitsio.Card, a *ndarray.Array) error {
	var (
		bitpix int
		data   interface{}
		zero   interface{}
		n      = a.Size()
		i      int
	)
	switch a.DType() {
	case ndarray.Bool, ndarray.Uint8:
		bitpix = 8
		buf := make([]byte, n)
		a.Each(func(idx []int) { buf[i] = byte(a.Int(idx...)); i++ })
		data = buf
	case ndarray.Int8:
		bitpix, zero = 8, -128
		buf := make([]byte, n)
		a.Each(func(idx []int) { buf[i] = byte(a.Int(idx...) + 128); i++ })
		data = buf
	case ndarray.Int16:
		bitpix = 16
		buf := make([]int16, n)
		a.Each(func(idx []int) { buf[i] = int16(a.Int(idx...)); i++ })
		data = buf
	case ndarray.Uint16:
		bitpix, zero = 16, 32768
		buf := make([]int16, n)
		a.Each(func(idx []int) { buf[i] = int16(a.Int(idx...) - 32768); i++ })
		data = buf
	case ndarray.Int32:
		bitpix = 32
		buf := make([]int32, n)
		a.Each(func(idx []int) { buf[i] = int32(a.Int(idx...)); i++ })
		data = buf
	case ndarray.Uint32:
		bitpix, zero = 32, 2147483648
		buf := make([]int32, n)
		a.Each(func(idx []int) { buf[i] = int32(a.Int(idx...) - 2147483648); i++ })
		data = buf
	case ndarray.Int64:
		bitpix = 64
		buf := make([]int64, n)
		a.Each(func(idx []int) { buf[i] = a.Int(idx...); i++ })
		data = buf
	case ndarray.Float16, ndarray.Float32:
		bitpix = -32
		buf := make([]float32, n)
		a.Each(func(idx []int) { buf[i] = float32(a.Float(idx...)); i++ })
		data = buf
	case ndarray.Float64:
		bitpix = -64
		buf := make([]float64, n)
		a.Each(func(idx []int) { buf[i] = a.Float(idx...); i++ })
		data = buf
	default:
		return fmt.Errorf("%w: %v", ErrDType, a.DType())
	}
	if zero != nil {
		metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: zero}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()
	im := fitsio.NewImage(bitpix, reversed(a.Shape()))
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return f.Write(im)
}

// cardFloat reads a numeric card value, returning def if the card is absent
func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// Read decodes the primary image of a FITS stream.  The conventional BZERO
// offsets map back to unsigned (or signed byte) dtypes; any other scaling
// yields float64.  The non-structural header cards are returned alongside.
func Read(r io.Reader) ([]fitsio.Card, *ndarray.Array, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	im, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, nil, fmt.Errorf("fits: primary HDU is not an image")
	}
	hdr := im.Header()
	axes := hdr.Axes()
	shape := reversed(axes)
	n := 1
	for _, s := range shape {
		n *= s
	}
	bzero := cardFloat(hdr, "BZERO", 0)
	bscale := cardFloat(hdr, "BSCALE", 1)

	var cards []fitsio.Card
	for _, k := range hdr.Keys() {
		if !structural[k] {
			cards = append(cards, *hdr.Get(k))
		}
	}

	var a *ndarray.Array
	switch hdr.Bitpix() {
	case 8:
		buf := make([]byte, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
		if err == nil && bzero == -128 && bscale == 1 {
			s := make([]int8, n)
			for i, v := range buf {
				s[i] = int8(int(v) - 128)
			}
			a, err = ndarray.Wrap(s, shape...)
			bzero = 0
		}
	case 16:
		buf := make([]int16, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
		if err == nil && bzero == 32768 && bscale == 1 {
			u := make([]uint16, n)
			for i, v := range buf {
				u[i] = uint16(int32(v) + 32768)
			}
			a, err = ndarray.Wrap(u, shape...)
			bzero = 0
		}
	case 32:
		buf := make([]int32, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
		if err == nil && bzero == 2147483648 && bscale == 1 {
			u := make([]uint32, n)
			for i, v := range buf {
				u[i] = uint32(int64(v) + 2147483648)
			}
			a, err = ndarray.Wrap(u, shape...)
			bzero = 0
		}
	case 64:
		buf := make([]int64, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
	case -32:
		buf := make([]float32, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
	case -64:
		buf := make([]float64, n)
		if err = im.Read(&buf); err != nil {
			return nil, nil, err
		}
		a, err = ndarray.Wrap(buf, shape...)
	default:
		return nil, nil, fmt.Errorf("fits: unsupported BITPIX %d", hdr.Bitpix())
	}
	if err != nil {
		return nil, nil, err
	}
	if bzero == 0 && bscale == 1 {
		return cards, a, nil
	}
	scaled, err := ndarray.New(ndarray.Float64, shape...)
	if err != nil {
		return nil, nil, err
	}
	a.Each(func(idx []int) { scaled.SetFloat(a.Float(idx...)*bscale+bzero, idx...) })
	return cards, scaled, nil
}
