package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/auth"
)

// session is a resolved connection to the server: host, token, and an
// HTTP client.
type session struct {
	host   string
	token  string
	client *http.Client
}

// connect resolves the server address and token from flags and
// rekcod.json.
func connect() (*session, error) {
	cfg, err := auth.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("no server credentials (run `rekcod server` first, or point --config-path at rekcod.json): %w", err)
	}
	host := masterHost
	if host == "" {
		host = cfg.Host
	}
	if host == "" {
		return nil, fmt.Errorf("server host unknown: pass --host")
	}
	return &session{
		host:   host,
		token:  cfg.Token,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// call posts a JSON body and decodes the enveloped response payload.
func call[Req, Resp any](s *session, method, path string, body *Req) (*Resp, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, "http://"+s.host+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.TokenHeader, s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope api.Response[Resp]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("%s", envelope.Msg)
	}
	return envelope.Data, nil
}

// stream posts a JSON body and copies the raw response to out, for
// endpoints that answer with a live plain-text log. A JSON answer is an
// error envelope and is decoded as such.
func stream[Req any](s *session, method, path string, body *Req, out io.Writer) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, "http://"+s.host+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set(api.TokenHeader, s.token)
	req.Header.Set("Content-Type", "application/json")

	// No client timeout here: the log stays open as long as the work runs.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var envelope api.Response[api.Empty]
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		if envelope.Code != 0 {
			return fmt.Errorf("%s", envelope.Msg)
		}
		return nil
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
