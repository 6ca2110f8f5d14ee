// Package envstore holds the fleet-wide environment document: one kvs row
// with KEY=VALUE lines that templates read through their Env context.
package envstore

import (
	"context"
	"strings"
	"sync"

	"github.com/rekcod/rekcod/internal/db"
)

const (
	module = "env"
	key    = "global"
)

// Store caches the parsed document; Set busts the cache so the next read
// reloads from the kvs row.
type Store struct {
	kvs *db.KvsSet

	mu     sync.RWMutex
	loaded bool
	raw    string
	vars   map[string]string
}

func New(kvs *db.KvsSet) *Store {
	return &Store{kvs: kvs}
}

// Document returns the raw KEY=VALUE document, "" when never set.
func (s *Store) Document(ctx context.Context) (string, error) {
	if err := s.load(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw, nil
}

// GetAll returns a copy of the parsed variables.
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out, nil
}

// Get returns one variable.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	if err := s.load(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok, nil
}

// Set replaces the whole document and busts the cache.
func (s *Store) Set(ctx context.Context, document string) error {
	err := s.kvs.InsertOrUpdate(ctx, &db.Kvs{Module: module, Key: key, Value: document})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}

func (s *Store) load(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	row, err := s.kvs.SelectOne(ctx, module, db.Filter{Key: db.Eq(key)})
	if err != nil {
		return err
	}
	raw := ""
	if row != nil {
		raw = row.Value
	}

	s.mu.Lock()
	s.raw = raw
	s.vars = parse(raw)
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// parse reads KEY=VALUE lines. Blank lines and # comments are skipped;
// lines without = are ignored; later keys win.
func parse(doc string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return vars
}
