package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xtal-tools/dxlab/fits"
	"github.com/xtal-tools/dxlab/flumpy"
	"github.com/xtal-tools/dxlab/npy"
	"github.com/xtal-tools/dxlab/smv"
)

// Config is the converter configuration
type Config struct {
	// Input is the folder scanned for images when none are named
	Input string `koanf:"Input" yaml:"Input"`

	// Pattern selects the images in Input
	Pattern string `koanf:"Pattern" yaml:"Pattern"`

	// Output is the folder written to
	Output string `koanf:"Output" yaml:"Output"`

	// Format is fits or npy
	Format string `koanf:"Format" yaml:"Format"`

	// OverloadBits flags saturated pixels, 0 disables
	OverloadBits int `koanf:"OverloadBits" yaml:"OverloadBits"`

	// Quiet disables the progress spinner
	Quiet bool `koanf:"Quiet" yaml:"Quiet"`
}

// envPrefix is stripped from environment variables overriding the config
const envPrefix = "SMV2FITS_"

// envKey maps SMV2FITS_OUTPUT to Output; unknown variables are ignored
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	for _, field := range []string{"Input", "Pattern", "Output", "Format", "OverloadBits", "Quiet"} {
		if strings.EqualFold(field, s) {
			return field
		}
	}
	return ""
}

// convert reads the image at path and writes it to the output folder,
// returning the file written
func convert(cfg Config, path string) (string, error) {
	hdr, g, err := smv.Open(path)
	if err != nil {
		return "", err
	}
	if cfg.OverloadBits > 0 {
		if err = smv.ApplyOverloadMask(g, cfg.OverloadBits); err != nil {
			return "", err
		}
	}
	arr, err := flumpy.ToDense(flumpy.Grid(g))
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)
	var buf bytes.Buffer
	switch cfg.Format {
	case "", "fits":
		err = fits.Write(&buf, fits.Cards(name, hdr, smv.LayoutKeys...), arr)
		cfg.Format = "fits"
	case "npy":
		err = npy.Write(&buf, arr)
	default:
		return "", fmt.Errorf("unknown format %q, use fits or npy", cfg.Format)
	}
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(cfg.Output, 0777); err != nil {
		return "", err
	}
	out := filepath.Join(cfg.Output, strings.TrimSuffix(name, filepath.Ext(name))+"."+cfg.Format)
	return out, os.WriteFile(out, buf.Bytes(), 0666)
}
