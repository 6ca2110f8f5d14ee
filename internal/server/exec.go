package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/gorilla/websocket"

	"github.com/rekcod/rekcod/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard may be served from another origin; the token check
	// already gates the endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// termConn serializes websocket writes: the exec output pump and the
// control path both send frames.
type termConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (t *termConn) send(ev api.TermEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.WriteJSON(ev)
}

// handleExecTerminal bridges a websocket to an interactive shell inside a
// container: sh under a TTY, raw bytes as "out" events, "data" and
// "resize" events inbound. Every failure, node resolution included, is
// reported as an "err" event on the upgraded socket so terminal clients
// have one error surface.
func (s *Server) handleExecTerminal(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("terminal upgrade", "err", err)
		return
	}
	defer ws.Close()
	conn := &termConn{ws: ws}

	nodeName := r.URL.Query().Get("node_name")
	containerID := r.URL.Query().Get("id")
	if nodeName == "" || containerID == "" {
		conn.send(api.TermEvent{Event: "err", Data: "node_name and id are required"}) //nolint:errcheck
		return
	}

	st, err := s.nodes.GetNode(r.Context(), nodeName)
	if err != nil || st == nil || !st.Node.Status {
		conn.send(api.TermEvent{Event: "err", Data: fmt.Sprintf("node %q is not online", nodeName)}) //nolint:errcheck
		return
	}
	cli := st.Engine

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	execID, err := cli.ExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		conn.send(api.TermEvent{Event: "err", Data: err.Error()}) //nolint:errcheck
		return
	}
	stream, err := cli.ExecStart(ctx, execID, true)
	if err != nil {
		conn.send(api.TermEvent{Event: "err", Data: err.Error()}) //nolint:errcheck
		return
	}
	defer stream.Close()

	if err := conn.send(api.TermEvent{Event: "connected", Data: "ok"}); err != nil {
		return
	}
	s.log.Info("terminal opened", "node", nodeName, "container", containerID)

	// exec output → websocket
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if err := conn.send(api.TermEvent{Event: "out", Data: string(buf[:n])}); err != nil {
					return
				}
			}
			if err != nil {
				conn.send(api.TermEvent{Event: "disconnected", Data: "ok"}) //nolint:errcheck
				return
			}
		}
	}()

	// websocket → exec input
	for {
		var ev api.TermEvent
		if err := ws.ReadJSON(&ev); err != nil {
			// Client went away: ask the shell to exit before tearing down.
			stream.Write([]byte("exit\n")) //nolint:errcheck
			cancel()
			<-done
			s.log.Info("terminal closed", "node", nodeName, "container", containerID)
			return
		}
		switch ev.Event {
		case "data":
			if _, err := stream.Write([]byte(ev.Data)); err != nil {
				cancel()
				<-done
				return
			}
		case "resize":
			if ev.Resize != nil {
				if err := cli.ExecResize(ctx, execID, uint(ev.Resize.Height), uint(ev.Resize.Width)); err != nil {
					s.log.Warn("terminal resize", "err", err)
				}
			}
		}
	}
}
