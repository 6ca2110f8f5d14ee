// Package auth owns the shared bearer token: one-shot issuance on the
// server, explicit injection on the agent, and the HTTP middleware that
// guards the inbound agent channel.
package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/rekcod/rekcod/api"
)

// Config is the persisted server identity (<config_path>/rekcod.json).
type Config struct {
	Host  string `json:"host"`
	Token string `json:"token"`
}

var (
	tokenOnce sync.Once
	token     string
)

// SetToken fixes the process-global token. It may be called once; later
// calls are ignored (the token never changes for a running process).
func SetToken(t string) {
	tokenOnce.Do(func() { token = t })
}

// Token returns the process-global token. It panics when called before
// SetToken; that is a programming error, not a runtime condition.
func Token() string {
	if token == "" {
		panic("auth: token not initialized")
	}
	return token
}

// LoadOrCreate reads rekcod.json from configPath, generating a fresh
// UUIDv4 token and writing the file on first run.
func LoadOrCreate(configPath, host string) (*Config, error) {
	path := filepath.Join(configPath, api.ConfigFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{Host: host, Token: uuid.NewString()}
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads rekcod.json without creating it.
func Load(configPath string) (*Config, error) {
	path := filepath.Join(configPath, api.ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Middleware rejects requests whose X-REKCOD-TOKEN header does not match
// the expected token.
func Middleware(next http.Handler, expected string, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(api.TokenHeader) != expected {
			log.Debug("token mismatch", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
