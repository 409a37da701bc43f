package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtal-tools/dxlab/fits"
	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/ndarray"
	"github.com/xtal-tools/dxlab/npy"
	"github.com/xtal-tools/dxlab/smv"
)

func writeImage(t *testing.T) string {
	t.Helper()
	g, err := flex.FromSlice([]int32{1, 2, 3, 65535}, 2, 2)
	require.NoError(t, err)
	h := smv.NewHeader()
	h.Set("DISTANCE", "150")
	var buf bytes.Buffer
	require.NoError(t, smv.Write(&buf, h, g))
	fn := filepath.Join(t.TempDir(), "x_001.img")
	require.NoError(t, os.WriteFile(fn, buf.Bytes(), 0o644))
	return fn
}

func TestConvertFITS(t *testing.T) {
	cfg := Config{Output: t.TempDir(), Format: "fits", OverloadBits: 16}
	out, err := convert(cfg, writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "x_001.fits", filepath.Base(out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cards, arr, err := fits.Read(f)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, arr.Shape())
	assert.Equal(t, int64(-1), arr.Int(1, 1))
	names := map[string]interface{}{}
	for _, c := range cards {
		names[c.Name] = c.Value
	}
	assert.Equal(t, 150.0, names["DISTANCE"])
	assert.NotContains(t, names, "BYTE_ORDER")
}

func TestConvertNpy(t *testing.T) {
	cfg := Config{Output: t.TempDir(), Format: "npy"}
	out, err := convert(cfg, writeImage(t))
	require.NoError(t, err)
	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	arr, err := npy.Read(f)
	require.NoError(t, err)
	vals, err := ndarray.Values[int32](arr)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 65535}, vals)
}

func TestConvertRejects(t *testing.T) {
	_, err := convert(Config{Output: t.TempDir(), Format: "tiff"}, writeImage(t))
	assert.Error(t, err)
	_, err = convert(Config{Output: t.TempDir()}, filepath.Join(t.TempDir(), "missing.img"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "Output", envKey("SMV2FITS_OUTPUT"))
	assert.Equal(t, "OverloadBits", envKey("SMV2FITS_OVERLOADBITS"))
	assert.Equal(t, "", envKey("SMV2FITS_COLOUR"))
}
