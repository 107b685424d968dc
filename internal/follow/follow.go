// Package follow tails a transcript while it is being recorded.
package follow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow copies path's current contents to out and then every byte appended
// to it. It returns nil when the file is removed or renamed or ctx is done.
// A file truncated underneath it is read again from the start.
func Follow(ctx context.Context, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched rather than the file: removing a file that is
	// still open here would otherwise surface only as a Chmod. Watch before
	// the first copy so no append is missed.
	name := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(name)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := catchUp(f, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) {
				if err := catchUp(f, out); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return catchUp(f, out)
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; continue watching.
		}
	}
}

// catchUp copies whatever lies between the read offset and end of file.
func catchUp(f *os.File, out io.Writer) error {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < pos {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	_, err = io.Copy(out, f)
	return err
}
