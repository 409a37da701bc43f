package smv_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/smv"
)

// synthetic builds a raw SMV file with the given extra header lines and
// fast x slow big endian pixels counting up from start
func synthetic(extra string, fast, slow int, start uint16) []byte {
	head := fmt.Sprintf("{\nHEADER_BYTES=  512;\nDIM=2;\nBYTE_ORDER=big_endian;\nTYPE=unsigned_short;\nSIZE1=%d;\nSIZE2=%d;\n%s}\f", fast, slow, extra)
	buf := bytes.Repeat([]byte{' '}, 512)
	copy(buf, head)
	for i := 0; i < fast*slow; i++ {
		buf = binary.BigEndian.AppendUint16(buf, start+uint16(i))
	}
	return buf
}

const sn442 = "DETECTOR_SN=442;\nDISTANCE=150.0;\nPIXEL_SIZE=0.0816;\nDENZO_X_BEAM=94.2;\nDENZO_Y_BEAM=93.1;\nBEAM_CENTER_X=1.0;\nBEAM_CENTER_Y=2.0;\nWAVELENGTH=1.0;\n"

func TestUnderstand(t *testing.T) {
	if !smv.Understand(bytes.NewReader(synthetic("", 2, 2, 0))) {
		t.Error("synthetic SMV file not understood")
	}
	if smv.Understand(strings.NewReader("SIMPLE  =                    T")) {
		t.Error("FITS file understood as SMV")
	}
	if smv.Understand(strings.NewReader("{")) {
		t.Error("truncated brace understood as SMV")
	}
}

func TestReadImage(t *testing.T) {
	h, g, err := smv.ReadImage(bytes.NewReader(synthetic(sn442, 3, 2, 65530)))
	if err != nil {
		t.Fatal(err)
	}
	if got := g.All(); got[0] != 2 || got[1] != 3 {
		t.Errorf("grid shape %v, want [2 3]", got)
	}
	if g.Kind() != flex.Int {
		t.Errorf("grid kind %v, want int", g.Kind())
	}
	px, _ := flex.View[int32](g)
	if px[g.Index(1, 2)] != 65535 {
		t.Errorf("last pixel %d, want 65535", px[g.Index(1, 2)])
	}
	sn, err := h.DetectorSN()
	if err != nil || sn != 442 {
		t.Errorf("DetectorSN = %d, %v", sn, err)
	}
	if keys := h.Keys(); keys[0] != "HEADER_BYTES" || keys[len(keys)-1] != "WAVELENGTH" {
		t.Errorf("keys out of file order: %v", keys)
	}
}

func TestReadImageTruncated(t *testing.T) {
	raw := synthetic("", 4, 4, 0)
	_, _, err := smv.ReadImage(bytes.NewReader(raw[:len(raw)-3]))
	if !errors.Is(err, smv.ErrShortData) {
		t.Errorf("expected ErrShortData, got %v", err)
	}
	_, err = smv.ReadHeader(bytes.NewReader(raw[:100]))
	if !errors.Is(err, smv.ErrShortData) {
		t.Errorf("expected ErrShortData for a partial header, got %v", err)
	}
	_, err = smv.ReadHeader(strings.NewReader("SIMPLE  =                    T"))
	if !errors.Is(err, smv.ErrNotSMV) {
		t.Errorf("expected ErrNotSMV, got %v", err)
	}
}

func TestReadImageUnsupported(t *testing.T) {
	raw := synthetic("", 2, 2, 0)
	raw = bytes.Replace(raw, []byte("unsigned_short"), []byte("signed_long   "), 1)
	_, _, err := smv.ReadImage(bytes.NewReader(raw))
	if !errors.Is(err, smv.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestReadImageOversized(t *testing.T) {
	for _, size := range [][2]int{{1 << 32, 1 << 32}, {1 << 20, 1 << 20}, {-1, 4}} {
		head := fmt.Sprintf("{\nHEADER_BYTES=  512;\nTYPE=unsigned_short;\nSIZE1=%d;\nSIZE2=%d;\n}\f", size[0], size[1])
		buf := bytes.Repeat([]byte{' '}, 512)
		copy(buf, head)
		_, _, err := smv.ReadImage(bytes.NewReader(buf))
		if !errors.Is(err, smv.ErrBadValue) {
			t.Errorf("SIZE1=%d SIZE2=%d: got %v, want ErrBadValue", size[0], size[1], err)
		}
	}
}

func TestPanelSN442(t *testing.T) {
	h, err := smv.ReadHeader(bytes.NewReader(synthetic(sn442, 2, 2, 0)))
	if err != nil {
		t.Fatal(err)
	}
	if !smv.IsSN442(h) {
		t.Fatal("header not recognised as SN442")
	}
	p, err := h.Panel()
	if err != nil {
		t.Fatal(err)
	}
	if p.BeamCentre != [2]float64{93.1, 94.2} {
		t.Errorf("beam centre %v, want DENZO (y, x)", p.BeamCentre)
	}
	if p.TrustedRange != [2]float64{-41, 65495} {
		t.Errorf("trusted range %v", p.TrustedRange)
	}
	if p.Pedestal != 40 || p.ImageSize != [2]int{2, 2} || p.Distance != 150 {
		t.Errorf("unexpected panel %+v", p)
	}
}

func TestPanelGeneric(t *testing.T) {
	extra := strings.Replace(sn442, "442", "916", 1) + "IMAGE_PEDESTAL=20;\n"
	h, err := smv.ReadHeader(bytes.NewReader(synthetic(extra, 2, 2, 0)))
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.Panel()
	if err != nil {
		t.Fatal(err)
	}
	if p.BeamCentre != [2]float64{2, 1} {
		t.Errorf("beam centre %v, want BEAM_CENTER (y, x)", p.BeamCentre)
	}
	if p.TrustedRange != [2]float64{-21, 65515} {
		t.Errorf("trusted range %v", p.TrustedRange)
	}

	h.Set("DISTANCE", "far")
	if _, err := h.Panel(); !errors.Is(err, smv.ErrBadValue) {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	g, err := flex.FromSlice([]int32{0, 1, -5, 70000, 40, 41}, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	h := smv.NewHeader()
	h.Set("DETECTOR_SN", "442")
	var buf bytes.Buffer
	if err := smv.Write(&buf, h, g); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 512+12 {
		t.Errorf("encoded %d bytes, want %d", buf.Len(), 512+12)
	}
	h2, g2, err := smv.ReadImage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !smv.IsSN442(h2) {
		t.Error("DETECTOR_SN lost")
	}
	px, _ := flex.View[int32](g2)
	want := []int32{0, 1, 0, 65535, 40, 41}
	for i := range want {
		if px[i] != want[i] {
			t.Errorf("pixel %d = %d, want %d", i, px[i], want[i])
		}
	}
}

func TestLongHeader(t *testing.T) {
	g, _ := flex.New(flex.Int, 1, 1)
	h := smv.NewHeader()
	h.Set("COMMENT", strings.Repeat("x", 700))
	var buf bytes.Buffer
	if err := smv.Write(&buf, h, g); err != nil {
		t.Fatal(err)
	}
	h2, _, err := smv.ReadImage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if size, _ := h2.Size(); size != 1024 {
		t.Errorf("HEADER_BYTES = %d, want 1024", size)
	}
	if c, _ := h2.Get("COMMENT"); len(c) != 700 {
		t.Errorf("COMMENT has %d characters, want 700", len(c))
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lyso_1_001.img")
	if err := os.WriteFile(path, synthetic("", 2, 2, 7), 0o644); err != nil {
		t.Fatal(err)
	}
	_, g, err := smv.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if g.Size() != 4 {
		t.Errorf("grid has %d pixels, want 4", g.Size())
	}
}

func TestApplyOverloadMask(t *testing.T) {
	g, _ := flex.FromSlice([]int32{65535, 65534, 65533, 3})
	if err := smv.ApplyOverloadMask(g, 16); err != nil {
		t.Fatal(err)
	}
	px, _ := flex.View[int32](g)
	want := []int32{-1, -2, 65533, 3}
	for i := range want {
		if px[i] != want[i] {
			t.Errorf("pixel %d = %d, want %d", i, px[i], want[i])
		}
	}

	g32, _ := flex.FromSlice([]int32{1<<31 - 1, 1<<31 - 2})
	if err := smv.ApplyOverloadMask(g32, 32); err != nil {
		t.Fatal(err)
	}
	px, _ = flex.View[int32](g32)
	if px[0] != -1 || px[1] != -2 {
		t.Errorf("32 bit mask gave %v", px)
	}

	d, _ := flex.New(flex.Double, 2)
	if err := smv.ApplyOverloadMask(d, 16); !errors.Is(err, flex.ErrBadKind) {
		t.Errorf("expected ErrBadKind, got %v", err)
	}
}
