// Package frames provides an HTTP interface to an archive of detector images
package frames

import (
	"bytes"
	"context"
	_ "crypto/sha256" // registers the hash behind digest.FromBytes
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	"github.com/opencontainers/go-digest"
	"github.com/snksoft/crc"
	"golang.org/x/time/rate"

	"github.com/xtal-tools/dxlab/archive"
	"github.com/xtal-tools/dxlab/fits"
	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/flumpy"
	"github.com/xtal-tools/dxlab/generichttp"
	"github.com/xtal-tools/dxlab/imgrec"
	"github.com/xtal-tools/dxlab/ndarray"
	"github.com/xtal-tools/dxlab/npy"
	"github.com/xtal-tools/dxlab/server"
	"github.com/xtal-tools/dxlab/smv"
)

// MaskedValue is written to pixels excluded by the mask
const MaskedValue = -2

// MaxMaskBytes bounds the npy body accepted by SetMask, room for a bool mask
// of an 8192x8192 panel
const MaxMaskBytes = 64 << 20

var (
	crcTable = crc.NewTable(crc.CRC32)

	// ErrMaskShape is returned when a mask does not match the frame it is applied to
	ErrMaskShape = errors.New("frames: mask shape does not match frame")

	// ErrBadFormat is returned for an unknown fmt query parameter
	ErrBadFormat = errors.New("frames: unknown format")

	// ErrNotRecording is returned by Record when the recorder is absent or disabled
	ErrNotRecording = errors.New("frames: recorder is not enabled")
)

// HTTPWrapper serves the images in an archive over HTTP
type HTTPWrapper struct {
	// Archive is the image source
	Archive archive.Dir

	// Recorder, if non-nil and active, receives a FITS copy of every frame
	// served as FITS or passed to Record
	Recorder *imgrec.Recorder

	mu      sync.RWMutex
	mask    *flex.Grid
	bits    int
	limiter *rate.Limiter

	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a new wrapper serving d.  fps limits the rate at
// which frames are decoded; zero means unlimited.
func NewHTTPWrapper(d archive.Dir, rec *imgrec.Recorder, fps float64) *HTTPWrapper {
	h := &HTTPWrapper{Archive: d, Recorder: rec, limiter: rate.NewLimiter(rate.Inf, 1)}
	h.SetFrameRate(fps)
	h.RouteTable = server.RouteTable{
		{Method: http.MethodGet, Path: "/images"}:                h.ListImages,
		{Method: http.MethodGet, Path: "/images/{name}/header"}:  h.GetHeader,
		{Method: http.MethodGet, Path: "/images/{name}/frame"}:   h.Limit(h.GetFrame),
		{Method: http.MethodGet, Path: "/mask"}:                  h.GetMask,
		{Method: http.MethodPost, Path: "/mask"}:                 h.SetMask,
		{Method: http.MethodDelete, Path: "/mask"}:               h.DeleteMask,
		{Method: http.MethodGet, Path: "/overload-bits"}:         generichttp.GetInt(h.OverloadBits),
		{Method: http.MethodPost, Path: "/overload-bits"}:        generichttp.SetInt(h.SetOverloadBits),
		{Method: http.MethodGet, Path: "/frame-rate"}:            generichttp.GetFloat(h.FrameRate),
		{Method: http.MethodPost, Path: "/frame-rate"}:           generichttp.SetFloat(h.SetFrameRate),
		{Method: http.MethodGet, Path: "/archive/root"}:          generichttp.GetString(h.root),
		{Method: http.MethodGet, Path: "/mask/present"}:          generichttp.GetBool(h.hasMask),
		{Method: http.MethodPost, Path: "/images/{name}/record"}: h.PostRecord,
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func (h *HTTPWrapper) root() (string, error) { return h.Archive.Root, nil }

func (h *HTTPWrapper) hasMask() (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mask != nil, nil
}

// OverloadBits is the readout bit depth used to flag saturated pixels, 0 if off
func (h *HTTPWrapper) OverloadBits() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bits, nil
}

// SetOverloadBits sets the readout bit depth; 0 turns flagging off
func (h *HTTPWrapper) SetOverloadBits(bits int) error {
	if bits != 0 && (bits < 2 || bits > 32) {
		return fmt.Errorf("bit depth %d must be 0 or between 2 and 32", bits)
	}
	h.mu.Lock()
	h.bits = bits
	h.mu.Unlock()
	return nil
}

// FrameRate is the maximum number of frames decoded per second, 0 if unlimited
func (h *HTTPWrapper) FrameRate() (float64, error) {
	l := h.limiter.Limit()
	if l == rate.Inf {
		return 0, nil
	}
	return float64(l), nil
}

// SetFrameRate limits frame decoding to fps per second; 0 removes the limit
func (h *HTTPWrapper) SetFrameRate(fps float64) error {
	if fps < 0 {
		return fmt.Errorf("frame rate %v must not be negative", fps)
	}
	if fps == 0 {
		h.limiter.SetLimit(rate.Inf)
		return nil
	}
	h.limiter.SetLimit(rate.Limit(fps))
	return nil
}

// Limit is a middleware rejecting requests beyond the frame rate with 429
func (h *HTTPWrapper) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "frame rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// statusOf maps package errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadFormat), errors.Is(err, ErrMaskShape),
		errors.Is(err, npy.ErrFormat), errors.Is(err, npy.ErrDType), errors.Is(err, npy.ErrTooLarge),
		errors.Is(err, flumpy.ErrUnsupportedDType), errors.Is(err, flumpy.ErrNotContiguous),
		errors.Is(err, flumpy.ErrMisaligned):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, smv.ErrShortData):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ListImages returns the names of the images in the archive as a JSON array
func (h *HTTPWrapper) ListImages(w http.ResponseWriter, r *http.Request) {
	names, err := h.Archive.Names()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(names)
}

// headerReply is the JSON form of an image header
type headerReply struct {
	Keys   []string          `json:"keys"`
	Values map[string]string `json:"values"`
	Panel  *smv.Panel        `json:"panel,omitempty"`
}

// GetHeader returns the header of an image and, if it describes a complete
// detector panel, the panel
func (h *HTTPWrapper) GetHeader(w http.ResponseWriter, r *http.Request) {
	hdr, err := h.Archive.Header(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	reply := headerReply{Keys: hdr.Keys(), Values: map[string]string{}}
	for _, k := range reply.Keys {
		reply.Values[k], _ = hdr.Get(k)
	}
	if p, err := hdr.Panel(); err == nil {
		reply.Panel = &p
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(reply)
}

// load reads an image and applies the overload flags and, if requested, the mask
func (h *HTTPWrapper) load(ctx context.Context, name string, masked bool) (*smv.Header, *ndarray.Array, error) {
	hdr, g, err := h.Archive.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	h.mu.RLock()
	bits, mask := h.bits, h.mask
	h.mu.RUnlock()
	if bits > 0 {
		if err = smv.ApplyOverloadMask(g, bits); err != nil {
			return nil, nil, err
		}
	}
	arr, err := flumpy.ToDense(flumpy.Grid(g))
	if err != nil {
		return nil, nil, err
	}
	if masked && mask != nil {
		if err = applyMask(arr, mask); err != nil {
			return nil, nil, err
		}
	}
	return hdr, arr, nil
}

// applyMask sets every pixel of arr whose mask entry is false to MaskedValue
func applyMask(arr *ndarray.Array, mask *flex.Grid) error {
	m, err := flumpy.ToDense(flumpy.Grid(mask))
	if err != nil {
		return err
	}
	if !sameShape(arr.Shape(), m.Shape()) {
		return fmt.Errorf("%w: frame %v, mask %v", ErrMaskShape, arr.Shape(), m.Shape())
	}
	arr.Each(func(idx []int) {
		if !m.Bool(idx...) {
			arr.SetInt(MaskedValue, idx...)
		}
	})
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encode renders arr in the given format
func encode(buf io.Writer, format string, hdr *smv.Header, name string, arr *ndarray.Array, p previewOpts) (string, error) {
	switch format {
	case "fits":
		return fits.ContentType, fits.Write(buf, fits.Cards(name, hdr, smv.LayoutKeys...), arr)
	case "npy":
		return npy.ContentType, npy.Write(buf, arr)
	case "png", "jpg", "jpeg":
		return writePreview(buf, format, arr, p)
	}
	return "", fmt.Errorf("%w: %q", ErrBadFormat, format)
}

// checksum computes the CRC-32 of p
func checksum(p []byte) uint32 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, p)
	return crcTable.CRC32(c)
}

// GetFrame returns an image on a GET request.
//
// the format is selected with the fmt query parameter, one of fits, npy, png
// or jpg; the default is fits.  mask=true applies the stored mask.  For the
// png and jpg previews, rot rotates counterclockwise by 0, 90, 180 or 270
// degrees and width resizes keeping the aspect ratio.
//
// Every reply carries an ETag (the sha256 digest of the payload) and an
// X-Data-CRC32 header.
func (h *HTTPWrapper) GetFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := chi.URLParam(r, "name")
	format := q.Get("fmt")
	if format == "" {
		format = "fits"
	}
	p, err := parsePreviewOpts(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hdr, arr, err := h.load(r.Context(), name, q.Get("mask") == "true")
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	var buf bytes.Buffer
	ctype, err := encode(&buf, format, hdr, name, arr, p)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	payload := buf.Bytes()
	etag := `"` + digest.FromBytes(payload).String() + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if format == "fits" && h.Recorder.Active() {
		if _, err := h.Recorder.Record(payload); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	hdrs := w.Header()
	hdrs.Set("Content-Type", ctype)
	hdrs.Set("ETag", etag)
	hdrs.Set("X-Data-CRC32", fmt.Sprintf("%08x", checksum(payload)))
	if format == "fits" || format == "npy" {
		hdrs.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", name, format))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// Record writes a FITS copy of an image to the recorder and returns the
// path written.  It is used by the archive watcher as well as PostRecord.
func (h *HTTPWrapper) Record(ctx context.Context, name string) (string, error) {
	if !h.Recorder.Active() {
		return "", ErrNotRecording
	}
	hdr, arr, err := h.load(ctx, name, false)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err = fits.Write(&buf, fits.Cards(name, hdr, smv.LayoutKeys...), arr); err != nil {
		return "", err
	}
	return h.Recorder.Record(buf.Bytes())
}

// PostRecord records an image on request and replies with the path written
func (h *HTTPWrapper) PostRecord(w http.ResponseWriter, r *http.Request) {
	fn, err := h.Record(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	hp := server.HumanPayload{T: types.String, String: fn}
	hp.EncodeAndRespond(w, r)
}

// GetMask returns the stored mask as an npy bool array
func (h *HTTPWrapper) GetMask(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	mask := h.mask
	h.mu.RUnlock()
	if mask == nil {
		http.Error(w, "no mask set", http.StatusNotFound)
		return
	}
	arr, err := flumpy.ToDense(flumpy.Grid(mask))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", npy.ContentType)
	w.WriteHeader(http.StatusOK)
	npy.Write(w, arr)
}

// SetMask stores the npy bool array in the request body as the mask.  True
// marks a pixel as valid.
func (h *HTTPWrapper) SetMask(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	arr, err := npy.Read(http.MaxBytesReader(w, r.Body, MaxMaskBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	if arr.DType() != ndarray.Bool {
		http.Error(w, fmt.Sprintf("mask must be bool, not %v", arr.DType()), http.StatusBadRequest)
		return
	}
	g, err := flumpy.FromDense(flumpy.Array(arr))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	h.mu.Lock()
	h.mask = g
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// DeleteMask clears the stored mask
func (h *HTTPWrapper) DeleteMask(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.mask = nil
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
