package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/rekcod/rekcod/api"
)

// flushWriter flushes after every write so command output streams to the
// caller line by line.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

// handleShell runs one command under sh -c (bash -c on request) with the
// supplied environment overlay, streaming combined output.
func (a *Agent) handleShell(w http.ResponseWriter, r *http.Request) {
	var req api.ShellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Run == "" {
		jsonErr(w, http.StatusBadRequest, "run is required")
		return
	}

	shell := "sh"
	if req.Bash {
		shell = "bash"
	}
	cmd := exec.CommandContext(r.Context(), shell, "-c", req.Run)
	cmd.Env = os.Environ()
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	out := flushWriter{w: w, f: flusher}
	cmd.Stdout = out
	cmd.Stderr = out

	a.log.Info("shell", "shell", shell, "run", req.Run)
	if err := cmd.Run(); err != nil {
		// Headers are gone; append the failure to the stream.
		fmt.Fprintf(out, "\ncommand failed: %v\n", err)
	}
}
