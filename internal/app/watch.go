package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch follows the app directory with fsnotify until the context ends.
// A new bundle directory is picked up when it appears; writes to a
// bundle's files reload that bundle; removing a directory drops it.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			m.watchBundle(watcher, filepath.Join(m.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("app watcher", "err", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(watcher, ev)
		}
	}
}

// watchBundle registers the bundle directory and its template subdirectory.
func (m *Manager) watchBundle(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		m.log.Warn("watching bundle dir", "dir", dir, "err", err)
		return
	}
	tmplDir := filepath.Join(dir, templateDirName)
	if info, err := os.Stat(tmplDir); err == nil && info.IsDir() {
		if err := watcher.Add(tmplDir); err != nil {
			m.log.Warn("watching template dir", "dir", tmplDir, "err", err)
		}
	}
}

func (m *Manager) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(filepath.Clean(m.dir), ev.Name)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	bundleDir := filepath.Join(m.dir, parts[0])

	// Events on the root are bundle directories coming and going.
	if len(parts) == 1 {
		switch {
		case ev.Op.Has(fsnotify.Create):
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				m.watchBundle(watcher, ev.Name)
				m.reload(ev.Name)
			}
		case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
			m.remove(ev.Name)
		}
		return
	}

	// A template directory appearing later needs its own watch.
	if len(parts) == 2 && parts[1] == templateDirName && ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := watcher.Add(ev.Name); err != nil {
				m.log.Warn("watching template dir", "dir", ev.Name, "err", err)
			}
		}
	}

	// Manifest or template changes reload the owning bundle.
	if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		m.reload(bundleDir)
	}
}
