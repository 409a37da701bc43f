package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/xtal-tools/dxlab/archive"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dxserver.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Root: "/dx",
		Archive: archive.Dir{
			Root:    ".",
			Pattern: archive.DefaultPattern,
			Timeout: 3 * time.Second},
		Recorder: Recorder{Prefix: "dx_", Ext: ".fits"},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `dxserver serves a directory of SMV diffraction images over HTTP
as FITS, npy, PNG or JPEG, with overload flagging and an optional mask.

Usage:
	dxserver <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `dxserver is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Root is the URL prefix, "dx" and "/dx/*" are equivalent.  Archive.Root is the
folder holding the images and Archive.Pattern selects them.  Archive.Timeout
bounds how long a request waits on an image that is still being written.

OverloadBits flags saturated pixels of a readout with that many bits: the
top value becomes -1 and the one below it -2.  0 disables flagging.

FrameRate caps how many frames are decoded per second, 0 is unlimited.

With Watch true, every new image in the archive is written to the recorder as
FITS, in Recorder.Root/yyyy-mm-dd/ with Recorder.Prefix and a counter.

Lock, when true, starts the server locked; POST {"bool": false} to /lock to
unlock it.  ReadOnlyLock leaves GET requests usable while locked.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("dxserver version %v\n", Version)
}

func run() {
	cfg := Config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	mux, w, err := BuildMux(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Watch {
		go func() {
			err := archive.Watch(context.Background(), cfg.Archive, func(name string) {
				fn, err := w.Record(context.Background(), name)
				if err != nil {
					log.Printf("recording %s: %v", name, err)
					return
				}
				log.Printf("recorded %s to %s", name, fn)
			})
			log.Println("archive watch stopped:", err)
		}()
	}
	log.Println("now listening for requests at ", cfg.Addr+cfg.Root)
	log.Fatal(http.ListenAndServe(cfg.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
