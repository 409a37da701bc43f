package archive

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn once with the base name of every image that appears in or
// is rewritten into the archive, until ctx is done.  fn runs on the watching
// goroutine; slow callbacks delay later notifications.
func Watch(ctx context.Context, d Dir, fn func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err = w.Add(d.Root); err != nil {
		return err
	}
	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-w.Errors:
			return err
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !d.Match(name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(seen, name)
			case ev.Op&fsnotify.Create != 0:
				delete(seen, name)
				fallthrough
			case ev.Op&fsnotify.Write != 0:
				if !seen[name] {
					seen[name] = true
					fn(name)
				}
			}
		}
	}
}
