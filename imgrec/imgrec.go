// Package imgrec contains an image recorder used to automatically save images to disk.
package imgrec

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/xtal-tools/dxlab/generichttp"
	"github.com/xtal-tools/dxlab/server"
)

// DefaultExt is the extension used when a Recorder has none
const DefaultExt = ".fits"

// Recorder records image sequences with incrementing filenames in yyyy-mm-dd
// subfolders.  Record is safe for concurrent use; changing the exported
// fields while recording is not.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the prefix for the filenames
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Ext is the filename extension including the dot, e.g. ".fits"
	Ext string `koanf:"Ext" yaml:"Ext"`

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`

	// now is the clock; nil means time.Now
	now func() time.Time
}

func (r *Recorder) ext() string {
	if r.Ext == "" {
		return DefaultExt
	}
	return r.Ext
}

// Active is true if the recorder is enabled and has somewhere to write
func (r *Recorder) Active() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	fldr := now().Format("2006-01-02")
	if fldr != r.timeFldr {
		// a new day starts counting again
		r.timeFldr = fldr
		r.counter = 0
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Record writes p to the next file in the sequence and returns its path
func (r *Recorder) Record(p []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if r.counter == 0 {
		r.counter = r.scan(fldr) + 1
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, r.ext()))
	err = os.WriteFile(fn, p, 0666)
	if err != nil {
		return "", err
	}
	r.counter++
	return fn, nil
}

// scan returns the highest sequence number already present in fldr for the
// current prefix and extension, or 0
func (r *Recorder) scan(fldr string) int {
	files, err := os.ReadDir(fldr)
	if err != nil {
		return 0
	}
	count := 0
	ext := r.ext()
	for _, file := range files {
		// skip directories, wrong extension, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ext))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement server.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// setRoot moves the recorder to a new root folder, creating today's subfolder
func (h HTTPWrapper) setRoot(root string) error {
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = root
	rec.counter = 0
	rec.updateFolder()
	_, err := rec.mkDir()
	return err
}

func (h HTTPWrapper) root() (string, error) {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	return h.Recorder.Root, nil
}

func (h HTTPWrapper) setPrefix(prefix string) error {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	h.Recorder.Prefix = prefix
	h.Recorder.counter = 0
	return nil
}

func (h HTTPWrapper) prefix() (string, error) {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	return h.Recorder.Prefix, nil
}

func (h HTTPWrapper) setEnabled(b bool) error {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	h.Recorder.Enabled = b
	return nil
}

func (h HTTPWrapper) enabled() (bool, error) {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	return h.Recorder.Enabled, nil
}

// pathElem is true for a single file or folder name that stays inside its parent
func pathElem(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// GetRecorded serves a file the recorder wrote, addressed by its day folder
// and file name as they appear in the path Record returns
func (h HTTPWrapper) GetRecorded(w http.ResponseWriter, r *http.Request) {
	day, file := chi.URLParam(r, "day"), chi.URLParam(r, "file")
	if !pathElem(day) || !pathElem(file) {
		http.Error(w, fmt.Sprintf("invalid recorded file %q/%q", day, file), http.StatusBadRequest)
		return
	}
	root, _ := h.root()
	if root == "" {
		http.Error(w, "recorder has no root folder", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, file, filepath.Join(root, day))
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder,
// and GET /autowrite/files/{day}/{file} which serves what it has written
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.setRoot)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(h.root)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.setPrefix)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(h.prefix)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.setEnabled)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(h.enabled)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/files/{day}/{file}"}] = h.GetRecorded
}
