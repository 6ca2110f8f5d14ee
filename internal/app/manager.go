package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rekcod/rekcod/api"
)

// Manager keeps the in-memory view of every bundle under the app
// directory. Scan fills it; the watcher keeps it fresh.
type Manager struct {
	dir string
	log *slog.Logger

	mu      sync.RWMutex
	bundles map[string]*Bundle
}

func NewManager(dir string, log *slog.Logger) *Manager {
	return &Manager{
		dir:     dir,
		log:     log.With("component", "app"),
		bundles: make(map[string]*Bundle),
	}
}

// Dir returns the app directory root.
func (m *Manager) Dir() string { return m.dir }

// Scan walks the app directory and loads every bundle. Directories without
// a readable manifest are skipped with a warning, not fatal: one broken
// bundle must not take the catalog down.
func (m *Manager) Scan() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("app dir: %w", err)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("app dir: %w", err)
	}

	bundles := make(map[string]*Bundle)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := loadBundle(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.log.Warn("skipping bundle", "dir", e.Name(), "err", err)
			continue
		}
		bundles[b.Manifest.Name] = b
	}

	m.mu.Lock()
	m.bundles = bundles
	m.mu.Unlock()

	m.log.Info("app catalog loaded", "bundles", len(bundles))
	return nil
}

// Get returns a bundle by name, nil when unknown.
func (m *Manager) Get(name string) *Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bundles[name]
}

// List returns every bundle in stable name order.
func (m *Manager) List() []api.ApplicationResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.ApplicationResponse, 0, len(m.bundles))
	for _, b := range m.bundles {
		out = append(out, b.ToResponse())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// reload re-reads one bundle directory and swaps it in. A parse failure
// keeps the previous bundle.
func (m *Manager) reload(dir string) {
	b, err := loadBundle(dir)
	if err != nil {
		m.log.Warn("bundle reload failed, keeping previous", "dir", dir, "err", err)
		return
	}

	m.mu.Lock()
	// The manifest's name may have changed; drop any bundle that pointed at
	// this directory under another name.
	for name, old := range m.bundles {
		if old.Dir == dir && name != b.Manifest.Name {
			delete(m.bundles, name)
		}
	}
	m.bundles[b.Manifest.Name] = b
	m.mu.Unlock()

	m.log.Info("bundle reloaded", "bundle", b.Manifest.Name, "version", b.Manifest.Version)
}

// remove drops every bundle loaded from dir.
func (m *Manager) remove(dir string) {
	m.mu.Lock()
	for name, b := range m.bundles {
		if b.Dir == dir {
			delete(m.bundles, name)
		}
	}
	m.mu.Unlock()
}
