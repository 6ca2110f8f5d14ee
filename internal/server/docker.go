package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/engine"
)

// engineFor resolves the node_name query parameter to an engine client for
// the node's proxied docker socket.
func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*engine.Client, bool) {
	name := r.URL.Query().Get("node_name")
	if name == "" {
		jsonErr(w, http.StatusBadRequest, "node_name is required")
		return nil, false
	}
	st, err := s.nodes.GetNode(r.Context(), name)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if st == nil || !st.Node.Status {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("node %q is not online", name))
		return nil, false
	}
	return st.Engine, true
}

// engineErr hides the raw engine failure from the caller; the detail goes
// to the server log.
func (s *Server) engineErr(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("engine request", "path", r.URL.Path,
		"node", r.URL.Query().Get("node_name"), "err", err)
	jsonErr(w, http.StatusInternalServerError, "engine request failed")
}

func (s *Server) handleDockerInfo(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	info, err := cli.Info(r.Context())
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, info)
}

func (s *Server) handleContainerList(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	list, err := cli.ListContainers(r.Context(), r.URL.Query().Get("all") == "true")
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, list)
}

func (s *Server) handleContainerInspect(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	resp, err := cli.InspectContainer(r.Context(), r.PathValue("id"))
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, resp)
}

// containerAction handles the start/stop/restart/delete family: one engine
// call, an empty envelope back.
func (s *Server) containerAction(act func(*engine.Client, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cli, ok := s.engineFor(w, r)
		if !ok {
			return
		}
		if err := act(cli, r); err != nil {
			s.engineErr(w, r, err)
			return
		}
		jsonOK(w, api.Empty{})
	}
}

// handleContainerLogs streams the raw log bytes through. Errors after the
// header is out are appended in-stream.
func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	logs, err := cli.Logs(r.Context(), r.PathValue("id"), engine.LogsOptions{
		Follow: q.Get("follow") == "true",
		Stdout: true,
		Stderr: true,
		Tail:   q.Get("tail"),
	})
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	defer logs.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := logs.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if fl != nil {
				fl.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				fmt.Fprintf(w, "\nlog stream error: %v\n", rerr) //nolint:errcheck
			}
			return
		}
	}
}

func (s *Server) handleImageList(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	list, err := cli.ListImages(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, list)
}

func (s *Server) handleNetworkList(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	list, err := cli.ListNetworks(r.Context())
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, list)
}

func (s *Server) handleVolumeList(w http.ResponseWriter, r *http.Request) {
	cli, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	list, err := cli.ListVolumes(r.Context())
	if err != nil {
		s.engineErr(w, r, err)
		return
	}
	jsonOK(w, list)
}
