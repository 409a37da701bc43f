package smv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/xtal-tools/dxlab/flex"
)

// MaxPixels bounds SIZE1*SIZE2 so a corrupt header cannot request an
// arbitrary allocation.  It is well above any ADSC panel (6144x6144).
const MaxPixels = 1 << 26

// sn442Pedestal is the fixed offset added to every pixel by instrument 442
const sn442Pedestal = 40

// Panel is the single flat CCD panel an SMV header describes
type Panel struct {
	Type string

	// Distance from sample to detector in mm
	Distance float64

	// BeamCentre in mm, (slow, fast)
	BeamCentre [2]float64

	// PixelSize in mm, (fast, slow)
	PixelSize [2]float64

	// ImageSize in pixels, (fast, slow)
	ImageSize [2]int

	// TrustedRange is the inclusive (underload, overload) of valid counts
	TrustedRange [2]float64

	Pedestal   float64
	Wavelength float64
}

// trustedRange gives the valid count range of a 16 bit ADSC readout
func trustedRange(pedestal float64) [2]float64 {
	return [2]float64{-1 - pedestal, 65535 - pedestal}
}

// Panel builds the panel description from the header.  Instrument 442
// records its beam centre as DENZO_X_BEAM/DENZO_Y_BEAM and always runs with a
// pedestal of 40; every other instrument uses BEAM_CENTER_X/Y and an optional
// IMAGE_PEDESTAL.
func (h *Header) Panel() (Panel, error) {
	var (
		p   = Panel{Type: "CCD"}
		err error
	)
	get := func(key string, dst *float64) {
		if err == nil {
			*dst, err = h.Float(key)
		}
	}
	geti := func(key string, dst *int) {
		if err == nil {
			*dst, err = h.Int(key)
		}
	}
	get("DISTANCE", &p.Distance)
	get("PIXEL_SIZE", &p.PixelSize[0])
	p.PixelSize[1] = p.PixelSize[0]
	geti("SIZE1", &p.ImageSize[0])
	geti("SIZE2", &p.ImageSize[1])
	if IsSN442(h) {
		get("DENZO_Y_BEAM", &p.BeamCentre[0])
		get("DENZO_X_BEAM", &p.BeamCentre[1])
		p.Pedestal = sn442Pedestal
	} else {
		get("BEAM_CENTER_Y", &p.BeamCentre[0])
		get("BEAM_CENTER_X", &p.BeamCentre[1])
		if _, ok := h.Get("IMAGE_PEDESTAL"); ok {
			get("IMAGE_PEDESTAL", &p.Pedestal)
		}
	}
	if _, ok := h.Get("WAVELENGTH"); ok {
		get("WAVELENGTH", &p.Wavelength)
	}
	if err != nil {
		return Panel{}, err
	}
	p.TrustedRange = trustedRange(p.Pedestal)
	return p, nil
}

// byteOrder decodes BYTE_ORDER, defaulting to little endian
func (h *Header) byteOrder() (binary.ByteOrder, error) {
	bo, ok := h.Get("BYTE_ORDER")
	switch {
	case !ok || bo == "little_endian":
		return binary.LittleEndian, nil
	case bo == "big_endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: BYTE_ORDER=%s", ErrUnsupported, bo)
}

// ReadImage reads a complete SMV image from r.  The pixels are returned as
// an int grid of shape (SIZE2, SIZE1), slow axis first.
func ReadImage(r io.Reader) (*Header, *flex.Grid, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	if t, ok := h.Get("TYPE"); ok && t != "unsigned_short" {
		return nil, nil, fmt.Errorf("%w: TYPE=%s", ErrUnsupported, t)
	}
	order, err := h.byteOrder()
	if err != nil {
		return nil, nil, err
	}
	fast, err := h.Int("SIZE1")
	if err != nil {
		return nil, nil, err
	}
	slow, err := h.Int("SIZE2")
	if err != nil {
		return nil, nil, err
	}
	if fast < 0 || slow < 0 || (slow > 0 && fast > MaxPixels/slow) {
		return nil, nil, fmt.Errorf("%w: SIZE1=%d SIZE2=%d", ErrBadValue, fast, slow)
	}
	raw := make([]byte, 2*fast*slow)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrShortData, err)
	}
	g, err := flex.New(flex.Int, slow, fast)
	if err != nil {
		return nil, nil, err
	}
	px, _ := flex.View[int32](g)
	for i := range px {
		px[i] = int32(order.Uint16(raw[2*i:]))
	}
	return h, g, nil
}

// Open reads the SMV image at path
func Open(path string) (*Header, *flex.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadImage(bufio.NewReader(f))
}

// Write encodes g, a 2D int grid, as an SMV image with header h.  The
// layout keys (DIM, TYPE, BYTE_ORDER, SIZE1, SIZE2, HEADER_BYTES) are set
// from g; pixel values are clipped to the unsigned 16 bit range.
func Write(w io.Writer, h *Header, g *flex.Grid) error {
	if g.Kind() != flex.Int || g.NDim() != 2 {
		return fmt.Errorf("%w: need a 2D int grid, have %dD %v", ErrUnsupported, g.NDim(), g.Kind())
	}
	dims := g.All()
	h.Set("DIM", "2")
	h.Set("BYTE_ORDER", "little_endian")
	h.Set("TYPE", "unsigned_short")
	h.Set("SIZE1", fmt.Sprint(dims[1]))
	h.Set("SIZE2", fmt.Sprint(dims[0]))
	if _, err := w.Write(h.encode()); err != nil {
		return err
	}
	px, _ := flex.View[int32](g)
	raw := make([]byte, 2*len(px))
	for i, v := range px {
		switch {
		case v < 0:
			v = 0
		case v > 65535:
			v = 65535
		}
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}
	_, err := w.Write(raw)
	return err
}

// ApplyOverloadMask marks the two sentinel values a counting detector with
// the given readout bit depth uses for bad pixels: top-1 becomes -1 and
// top-2 becomes -2, where top is 2^bits, or 2^31 for 32 bit readouts.
func ApplyOverloadMask(g *flex.Grid, bits int) error {
	if bits <= 1 || bits > 32 {
		return fmt.Errorf("%w: bit depth %d", ErrBadValue, bits)
	}
	px, err := flex.View[int32](g)
	if err != nil {
		return err
	}
	top := int64(1) << uint(bits)
	if bits == 32 {
		top = 1 << 31
	}
	for i, v := range px {
		switch int64(v) {
		case top - 1:
			px[i] = -1
		case top - 2:
			px[i] = -2
		}
	}
	return nil
}
