package frames_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtal-tools/dxlab/archive"
	"github.com/xtal-tools/dxlab/fits"
	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/flumpy"
	"github.com/xtal-tools/dxlab/generichttp/frames"
	"github.com/xtal-tools/dxlab/imgrec"
	"github.com/xtal-tools/dxlab/ndarray"
	"github.com/xtal-tools/dxlab/npy"
	"github.com/xtal-tools/dxlab/smv"
)

// pixels of the test image, 2 rows of 4
var pixels = []int32{0, 10, 20, 30, 40, 50, 65534, 65535}

func setup(t *testing.T, rec *imgrec.Recorder) (*frames.HTTPWrapper, http.Handler) {
	t.Helper()
	root := t.TempDir()
	g, err := flex.FromSlice(append([]int32{}, pixels...), 2, 4)
	require.NoError(t, err)
	h := smv.NewHeader()
	for k, v := range map[string]string{
		"DETECTOR_SN": "442", "DISTANCE": "100", "PIXEL_SIZE": "0.1",
		"DENZO_X_BEAM": "0.2", "DENZO_Y_BEAM": "0.1",
	} {
		h.Set(k, v)
	}
	var buf bytes.Buffer
	require.NoError(t, smv.Write(&buf, h, g))
	require.NoError(t, os.WriteFile(filepath.Join(root, "test_001.img"), buf.Bytes(), 0o644))

	w := frames.NewHTTPWrapper(archive.Dir{Root: root}, rec, 0)
	r := chi.NewRouter()
	w.RT().Bind(r)
	return w, r
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListImages(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/images", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"test_001.img"}, names)
}

func TestGetHeader(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/images/test_001.img/header", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		Keys   []string
		Values map[string]string
		Panel  *smv.Panel
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "442", reply.Values["DETECTOR_SN"])
	require.NotNil(t, reply.Panel)
	assert.Equal(t, 40.0, reply.Panel.Pedestal)
	assert.Equal(t, [2]int{4, 2}, reply.Panel.ImageSize)

	w = do(t, h, http.MethodGet, "/images/missing.img/header", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFrameNpyAndETag(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, npy.ContentType, w.Header().Get("Content-Type"))
	assert.Len(t, w.Header().Get("X-Data-CRC32"), 8)
	etag := w.Header().Get("ETag")
	assert.True(t, strings.HasPrefix(etag, `"sha256:`), etag)

	arr, err := npy.Read(w.Body)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Int32, arr.DType())
	assert.Equal(t, []int{2, 4}, arr.Shape())
	vals, err := ndarray.Values[int32](arr)
	require.NoError(t, err)
	assert.Equal(t, pixels, vals)

	req := httptest.NewRequest(http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	req.Header.Set("If-None-Match", etag)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotModified, rw.Code)
}

func TestFrameFitsIsRecorded(t *testing.T) {
	rec := &imgrec.Recorder{Root: t.TempDir(), Prefix: "dx_", Enabled: true}
	_, h := setup(t, rec)
	w := do(t, h, http.MethodGet, "/images/test_001.img/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fits.ContentType, w.Header().Get("Content-Type"))
	payload := w.Body.Bytes()

	cards, arr, err := fits.Read(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, arr.Shape())
	assert.Equal(t, int64(65535), arr.Int(1, 3))
	var filename string
	for _, c := range cards {
		if c.Name == "FILENAME" {
			filename, _ = c.Value.(string)
		}
	}
	assert.Equal(t, "test_001.img", filename)

	matches, err := filepath.Glob(filepath.Join(rec.Root, "*", "dx_000001.fits"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	onDisk, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	// recorder routes are injected alongside the frame routes
	w = do(t, h, http.MethodGet, "/autowrite/prefix", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOverloadBits(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodPost, "/overload-bits", []byte(`{"int": 16}`))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/overload-bits", nil)
	assert.JSONEq(t, `{"int": 16}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	arr, err := npy.Read(w.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), arr.Int(1, 2))
	assert.Equal(t, int64(-1), arr.Int(1, 3))

	w = do(t, h, http.MethodPost, "/overload-bits", []byte(`{"int": 99}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func maskBody(t *testing.T, shape ...int) ([]byte, *ndarray.Array) {
	t.Helper()
	m, err := ndarray.New(ndarray.Bool, shape...)
	require.NoError(t, err)
	m.Each(func(idx []int) { m.SetBool(idx[len(idx)-1] != 1, idx...) })
	var buf bytes.Buffer
	require.NoError(t, npy.Write(&buf, m))
	return buf.Bytes(), m
}

func TestMaskLifecycle(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/mask", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, m := maskBody(t, 2, 4)
	w = do(t, h, http.MethodPost, "/mask", body)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/mask/present", nil)
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/mask", nil)
	require.Equal(t, http.StatusOK, w.Code)
	back, err := npy.Read(w.Body)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(m, back))

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy&mask=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	arr, err := npy.Read(w.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(frames.MaskedValue), arr.Int(0, 1))
	assert.Equal(t, int64(frames.MaskedValue), arr.Int(1, 1))
	assert.Equal(t, int64(20), arr.Int(0, 2))

	w = do(t, h, http.MethodDelete, "/mask", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/mask", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaskRejections(t *testing.T) {
	_, h := setup(t, nil)
	body, _ := maskBody(t, 3, 3)
	w := do(t, h, http.MethodPost, "/mask", body)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy&mask=true", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "mask of the wrong shape")

	f, _ := ndarray.New(ndarray.Float64, 2, 4)
	var buf bytes.Buffer
	require.NoError(t, npy.Write(&buf, f))
	w = do(t, h, http.MethodPost, "/mask", buf.Bytes())
	assert.Equal(t, http.StatusBadRequest, w.Code, "float mask")

	w = do(t, h, http.MethodPost, "/mask", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewRotation(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=png&rot=90", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	im, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, im.Bounds().Dx())
	assert.Equal(t, 4, im.Bounds().Dy())

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=jpg&width=8", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=png&rot=45", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrameErrors(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=tiff", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodGet, "/images/nope.img/frame", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, h, http.MethodPost, "/images/test_001.img/record", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRecordEndpoint(t *testing.T) {
	rec := &imgrec.Recorder{Root: t.TempDir(), Enabled: true}
	_, h := setup(t, rec)
	w := do(t, h, http.MethodPost, "/images/test_001.img/record", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		Str string `json:"str"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.FileExists(t, reply.Str)

	// the recorded copy can be fetched back by day folder and file name
	day, file := filepath.Base(filepath.Dir(reply.Str)), filepath.Base(reply.Str)
	w = do(t, h, http.MethodGet, "/autowrite/files/"+day+"/"+file, nil)
	require.Equal(t, http.StatusOK, w.Code)
	onDisk, err := os.ReadFile(reply.Str)
	require.NoError(t, err)
	assert.Equal(t, onDisk, w.Body.Bytes())

	// turning the recorder off over HTTP stops further recording
	w = do(t, h, http.MethodPost, "/autowrite/enabled", []byte(`{"bool": false}`))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/images/test_001.img/record", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFrameRateLimit(t *testing.T) {
	wrapper, h := setup(t, nil)
	require.NoError(t, wrapper.SetFrameRate(0.001))
	w := do(t, h, http.MethodGet, "/frame-rate", nil)
	assert.JSONEq(t, `{"f64": 0.001}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = do(t, h, http.MethodPost, "/frame-rate", []byte(`{"f64": 0}`))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEndpointsListed(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodGet, "/endpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var eps []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eps))
	assert.Contains(t, eps, "GET /images/{name}/frame")
	assert.Contains(t, eps, "POST /mask")
}

// rawBoolMask builds a version 1.0 npy file of shape (2, 4) holding the given
// bytes verbatim as bool data
func rawBoolMask(data []byte) []byte {
	dict := "{'descr': '|b1', 'fortran_order': False, 'shape': (2, 4), }\n"
	out := []byte(npy.Magic)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)))
	out = append(out, dict...)
	return append(out, data...)
}

func TestMaskNonCanonicalBools(t *testing.T) {
	_, h := setup(t, nil)
	w := do(t, h, http.MethodPost, "/mask", rawBoolMask([]byte{1, 2, 0, 1, 3, 1, 255, 0}))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/images/test_001.img/frame?fmt=npy&mask=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	arr, err := npy.Read(w.Body)
	require.NoError(t, err)
	masked := 0
	arr.Each(func(idx []int) {
		if arr.Int(idx...) == frames.MaskedValue {
			masked++
		}
	})

	w = do(t, h, http.MethodGet, "/mask", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m, err := npy.Read(w.Body)
	require.NoError(t, err)
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 0, 1, 1, 1, 1, 0}, b)
	g, err := flumpy.FromDense(flumpy.Array(m))
	require.NoError(t, err)
	valid, err := g.CountTrue()
	require.NoError(t, err)
	assert.Equal(t, 6, valid)
	assert.Equal(t, 2, masked)
	assert.Equal(t, arr.Size(), valid+masked)
}

func TestMaskOversizedShape(t *testing.T) {
	_, h := setup(t, nil)
	dict := "{'descr': '|b1', 'fortran_order': False, 'shape': (4294967296, 4294967296), }\n"
	body := []byte(npy.Magic)
	body = append(body, 1, 0)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(dict)))
	body = append(body, dict...)
	w := do(t, h, http.MethodPost, "/mask", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodGet, "/mask/present", nil)
	assert.JSONEq(t, `{"bool": false}`, w.Body.String())
}
