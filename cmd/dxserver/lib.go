package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/xtal-tools/dxlab/archive"
	"github.com/xtal-tools/dxlab/generichttp"
	"github.com/xtal-tools/dxlab/generichttp/frames"
	"github.com/xtal-tools/dxlab/imgrec"
	"github.com/xtal-tools/dxlab/server/middleware/locker"
)

// Recorder is the configuration of the FITS recorder.  It is kept apart from
// imgrec.Recorder so the config can be copied.
type Recorder struct {
	// Root is the root folder to write to
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Ext is the filename extension
	Ext string `koanf:"Ext" yaml:"Ext"`

	// Enabled turns recording on at startup
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`
}

// Config is the server configuration
type Config struct {
	Addr         string      `koanf:"Addr" yaml:"Addr"`
	Root         string      `koanf:"Root" yaml:"Root"`
	Archive      archive.Dir `koanf:"Archive" yaml:"Archive"`
	Recorder     Recorder    `koanf:"Recorder" yaml:"Recorder"`
	OverloadBits int         `koanf:"OverloadBits" yaml:"OverloadBits"`
	FrameRate    float64     `koanf:"FrameRate" yaml:"FrameRate"`
	Watch        bool        `koanf:"Watch" yaml:"Watch"`
	Lock         bool        `koanf:"Lock" yaml:"Lock"`
	ReadOnlyLock bool        `koanf:"ReadOnlyLock" yaml:"ReadOnlyLock"`
}

// BuildMux constructs the router for cfg and returns it with the frame
// server it mounts
func BuildMux(cfg Config) (http.Handler, *frames.HTTPWrapper, error) {
	if fi, err := os.Stat(cfg.Archive.Root); err != nil || !fi.IsDir() {
		return nil, nil, fmt.Errorf("archive root %q is not a directory", cfg.Archive.Root)
	}
	var rec *imgrec.Recorder
	if cfg.Recorder.Root != "" {
		rec = &imgrec.Recorder{
			Root:    cfg.Recorder.Root,
			Prefix:  cfg.Recorder.Prefix,
			Ext:     cfg.Recorder.Ext,
			Enabled: cfg.Recorder.Enabled}
	}
	w := frames.NewHTTPWrapper(cfg.Archive, rec, 0)
	if err := w.SetOverloadBits(cfg.OverloadBits); err != nil {
		return nil, nil, err
	}
	if err := w.SetFrameRate(cfg.FrameRate); err != nil {
		return nil, nil, err
	}

	lock := locker.New()
	lock.ReadOnly = cfg.ReadOnlyLock
	if cfg.Lock {
		lock.Lock()
	}
	locker.Inject(w, lock)

	hndlS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	r := chi.NewRouter()
	r.Use(lock.Check)
	w.RT().Bind(r)
	root.Mount(hndlS, r)

	supergraph := map[string][]string{hndlS: w.RT().Endpoints()}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			fstr := fmt.Sprintf("error encoding endpoints data to json %q", err)
			log.Println(fstr)
		}
	})
	return root, w, nil
}
