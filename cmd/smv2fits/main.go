package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/xtal-tools/dxlab/archive"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "smv2fits.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Input:   ".",
		Pattern: archive.DefaultPattern,
		Output:  "converted",
		Format:  "fits"}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `smv2fits converts SMV diffraction images to FITS or npy files

Usage:
	smv2fits <command> [files...]

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `smv2fits is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Every key can also be
set from the environment with the SMV2FITS_ prefix, e.g. SMV2FITS_FORMAT=npy.
The environment wins over the file.

run converts the files named after it, or every file in Input matching
Pattern when none are named.  The results go to Output with the extension
replaced by the format, fits or npy.

OverloadBits flags saturated pixels of a readout with that many bits: the
top value becomes -1 and the one below it -2.  0 disables flagging.`
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
	fmt.Printf("smv2fits version %v\n", Version)
}

func spinner(quiet bool) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " converting",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            os.Stderr,
	}
	if quiet {
		cfg.Writer = io.Discard
		cfg.TerminalMode = yacspin.ForceNoTTYMode | yacspin.ForceDumbTerminalMode
	}
	return yacspin.New(cfg)
}

func run(files []string) {
	cfg := Config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	if len(files) == 0 {
		d := archive.Dir{Root: cfg.Input, Pattern: cfg.Pattern}
		names, err := d.Names()
		if err != nil {
			log.Fatal(err)
		}
		for _, n := range names {
			files = append(files, filepath.Join(cfg.Input, n))
		}
	}
	spin, err := spinner(cfg.Quiet)
	if err != nil {
		log.Fatal(err)
	}
	if err = spin.Start(); err != nil {
		log.Fatal(err)
	}
	failed := 0
	for i, fn := range files {
		spin.Message(fmt.Sprintf("%d/%d %s", i+1, len(files), filepath.Base(fn)))
		if _, err := convert(cfg, fn); err != nil {
			failed++
			log.Printf("%s: %v", fn, err)
		}
	}
	if failed > 0 {
		spin.StopFailMessage(fmt.Sprintf("%d of %d failed", failed, len(files)))
		spin.StopFail()
		os.Exit(1)
	}
	spin.StopMessage(fmt.Sprintf("%d images written to %s", len(files), cfg.Output))
	spin.Stop()
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
		run(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
