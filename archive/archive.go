/*Package archive serves SMV images out of a directory that a detector is
writing into.

Detectors write an image in several chunks, so a file that has just appeared
is often shorter than its header says it should be.  Load retries such reads
with exponential backoff until the file is complete or the timeout elapses.
*/
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/smv"
)

// DefaultPattern matches ADSC image names
const DefaultPattern = "*.img"

// ErrNotFound is returned for names outside the archive
var ErrNotFound = errors.New("archive: no such image")

// Dir is a directory of SMV images
type Dir struct {
	// Root is the directory holding the images
	Root string `koanf:"Root" yaml:"Root"`

	// Pattern is a filepath.Match glob selecting images within Root
	Pattern string `koanf:"Pattern" yaml:"Pattern"`

	// Timeout bounds how long Load waits for a file to be completely written
	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`
}

func (d Dir) pattern() string {
	if d.Pattern == "" {
		return DefaultPattern
	}
	return d.Pattern
}

// Match reports whether a base name belongs to the archive
func (d Dir) Match(name string) bool {
	ok, err := filepath.Match(d.pattern(), name)
	return err == nil && ok
}

// Names lists the images in the archive, sorted
func (d Dir) Names() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(d.Root, d.pattern()))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

// Path resolves name to a file within Root.  Names with path separators or
// that do not match the pattern are rejected.
func (d Dir) Path(name string) (string, error) {
	if name != filepath.Base(name) || !d.Match(name) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p := filepath.Join(d.Root, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

// Header reads only the header of an image
func (d Dir) Header(name string) (*smv.Header, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return smv.ReadHeader(f)
}

// Load reads an image, waiting for it to be completely written
func (d Dir) Load(ctx context.Context, name string) (*smv.Header, *flex.Grid, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, nil, err
	}
	var (
		hdr  *smv.Header
		grid *flex.Grid
	)
	op := func() error {
		var err error
		hdr, grid, err = smv.Open(p)
		if err != nil && !errors.Is(err, smv.ErrShortData) {
			return backoff.Permanent(err)
		}
		return err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	err = backoff.Retry(op, backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock}, ctx))
	if err != nil {
		return nil, nil, err
	}
	return hdr, grid, nil
}
