// Package engine is a typed client for the Docker Engine HTTP API as
// exposed through an agent's /proxy.docker passthrough. Every request path
// is prefixed and the shared token is injected, so the same client works
// against any registered node.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rekcod/rekcod/api"
)

// DefaultTimeout bounds control-plane calls. Streaming calls (logs, pull,
// export, events, exec) are unbounded and rely on context cancellation.
const DefaultTimeout = 40 * time.Second

// Client talks to one node's engine.
type Client struct {
	host   string // "ip:port", used for hijack dials
	base   string // "http://ip:port"
	prefix string // path prefix, normally api.DockerProxyPath
	token  string

	ctl    *http.Client // bounded, for control calls
	stream *http.Client // unbounded, for streaming calls
}

// New builds a client for baseURL ("http://ip:port"). The zero timeout
// selects DefaultTimeout.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("engine base url: %w", err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("engine base url %q: want http://host:port", baseURL)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	// Connections are not reused across requests: exec/attach hijacking
	// takes ownership of the underlying socket.
	transport := &http.Transport{MaxIdleConnsPerHost: 0, DisableKeepAlives: true}

	return &Client{
		host:   u.Host,
		base:   "http://" + u.Host,
		prefix: api.DockerProxyPath,
		token:  token,
		ctl:    &http.Client{Transport: transport, Timeout: timeout},
		stream: &http.Client{Transport: transport},
	}, nil
}

// Host returns the "ip:port" the client targets.
func (c *Client) Host() string { return c.host }

func (c *Client) url(path string, query url.Values) string {
	u := c.base + c.prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.TokenHeader, c.token)
	return req, nil
}

// do runs a bounded request and decodes the JSON response into out (when
// out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.ctl.Do(req)
	if err != nil {
		return fmt.Errorf("engine %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doStream runs an unbounded request and hands the body to the caller.
func (c *Client) doStream(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine %s %s: %w", method, path, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("engine: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

// dialContext opens the raw connection used for hijacked streams.
func (c *Client) dialContext(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, "tcp", c.host)
}
