package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/rekcod/rekcod/api"
)

// HijackedStream is the raw duplex stream of a started exec instance. Reads
// go through the buffered reader so bytes the server sent alongside the
// upgrade response are not lost.
type HijackedStream struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (h *HijackedStream) Read(p []byte) (int, error)  { return h.reader.Read(p) }
func (h *HijackedStream) Write(p []byte) (int, error) { return h.conn.Write(p) }

// CloseWrite half-closes the stream, signalling EOF on the exec's stdin.
func (h *HijackedStream) CloseWrite() error {
	if cw, ok := h.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (h *HijackedStream) Close() error { return h.conn.Close() }

// ExecStart starts a created exec instance attached, upgrades the
// connection, and returns the duplex stream. With tty the stream is raw
// terminal bytes in both directions.
func (c *Client) ExecStart(ctx context.Context, execID string, tty bool) (*HijackedStream, error) {
	body, err := json.Marshal(map[string]bool{"Detach": false, "Tty": tty})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.url("/exec/"+execID+"/start", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.TokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "tcp")

	conn, err := c.dialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine exec dial: %w", err)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine exec start: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine exec start: %w", err)
	}

	// 101 on modern engines; old ones answer 200 and stream on the same
	// connection.
	if resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		conn.Close()
		return nil, fmt.Errorf("engine: exec start: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return &HijackedStream{conn: conn, reader: br}, nil
}
