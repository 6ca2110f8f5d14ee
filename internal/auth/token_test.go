package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rekcod/rekcod/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadOrCreateGeneratesToken(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrCreate(dir, "127.0.0.1:6734")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.Token == "" {
		t.Fatal("expected a generated token")
	}
	if cfg.Host != "127.0.0.1:6734" {
		t.Errorf("host = %q, want %q", cfg.Host, "127.0.0.1:6734")
	}

	// The file must be readable back with the same token.
	data, err := os.ReadFile(filepath.Join(dir, api.ConfigFileName))
	if err != nil {
		t.Fatalf("reading rekcod.json: %v", err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parsing rekcod.json: %v", err)
	}
	if onDisk.Token != cfg.Token {
		t.Errorf("on-disk token = %q, want %q", onDisk.Token, cfg.Token)
	}
}

func TestLoadOrCreateIsStable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir, "a")
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}
	second, err := LoadOrCreate(dir, "b")
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if first.Token != second.Token {
		t.Error("token changed between runs")
	}
	if second.Host != "a" {
		t.Errorf("host = %q, want the persisted %q", second.Host, "a")
	}
}

// ── Middleware ───────────────────────────────────────────────────────────────

func TestMiddlewareValidToken(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := Middleware(inner, "secret", testLogger())
	req := httptest.NewRequest("POST", "/rekcod.server/node/register", nil)
	req.Header.Set(api.TokenHeader, "secret")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("expected inner handler to be called with valid token")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"wrong token", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			handler := Middleware(inner, "secret", testLogger())
			req := httptest.NewRequest("POST", "/rekcod.server/node/register", nil)
			if tt.token != "" {
				req.Header.Set(api.TokenHeader, tt.token)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if called {
				t.Error("inner handler should NOT be called")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}
