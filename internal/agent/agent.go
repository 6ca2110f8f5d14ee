// Package agent implements the per-node daemon: the authenticated engine
// passthrough under /proxy.docker, the node endpoints under /rekcod.agent,
// the registration loop, and the local housekeeping jobs.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/docker/docker/client"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/auth"
	"github.com/rekcod/rekcod/internal/config"
)

// Agent is one node's daemon.
type Agent struct {
	cfg    *config.AgentConfig
	token  string
	docker *client.Client // local engine, for the restart and event jobs
	sys    *sysCollector
	log    *slog.Logger
}

// New builds the agent. The local engine client honors DOCKER_HOST and
// negotiates the API version with the daemon.
func New(cfg *config.AgentConfig, token string, log *slog.Logger) (*Agent, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:    cfg,
		token:  token,
		docker: docker,
		sys:    newSysCollector(),
		log:    log.With("component", "agent"),
	}, nil
}

// Handler returns the agent's HTTP handler. Everything is behind the
// token check.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+api.AgentPrefixPath+"/{$}", a.handleRoot)
	mux.HandleFunc("GET "+api.AgentPrefixPath+"/sys", a.handleSys)
	mux.HandleFunc("POST "+api.AgentPrefixPath+"/shell", a.handleShell)
	mux.HandleFunc("POST "+api.AgentPrefixPath+"/download", a.handleDownload)
	mux.HandleFunc("GET "+api.AgentPrefixPath+"/download_range", a.handleDownloadRange)
	// Upload tolerates GET for older clients that stream the multipart
	// body without a method switch.
	mux.HandleFunc("POST "+api.AgentPrefixPath+"/upload", a.handleUpload)
	mux.HandleFunc("GET "+api.AgentPrefixPath+"/upload", a.handleUpload)

	// The engine passthrough takes every method and any sub-path.
	mux.HandleFunc(api.DockerProxyPath+"/", a.handleDockerProxy)
	mux.HandleFunc(api.DockerProxyPath, a.handleDockerProxy)

	return a.recoveryMiddleware(auth.Middleware(mux, a.token, a.log))
}

// RunJobs runs the background loops (registration, restart sweep, event
// poll) without a listener, for a master whose agent surface rides the
// server's listener. Blocks until the context ends.
func (a *Agent) RunJobs(ctx context.Context) {
	go a.registerLoop(ctx)
	go a.restartJob(ctx)
	go a.eventJob(ctx)
	<-ctx.Done()
}

// Run starts the HTTP listener and the background jobs, and blocks until
// the context ends.
func (a *Agent) Run(ctx context.Context, addr string) error {
	go a.registerLoop(ctx)
	go a.restartJob(ctx)
	go a.eventJob(ctx)

	srv := &http.Server{Addr: addr, Handler: a.Handler()}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background()) //nolint:errcheck
	}()

	a.log.Info("agent started", "addr", addr, "node", a.cfg.NodeName, "master", a.cfg.MasterHost)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleRoot is the liveness probe.
func (a *Agent) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("rekcod agent")) //nolint:errcheck
}

func (a *Agent) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("panic recovered", "error", rec, "stack", string(debug.Stack()))
				jsonErr(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// jsonOK writes a code-0 envelope.
func jsonOK[T any](w http.ResponseWriter, data T) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Success(data)) //nolint:errcheck
}

// jsonErr writes an error envelope with the HTTP status mirrored in the
// envelope code.
func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.Error[api.Empty](code, msg)) //nolint:errcheck
}
