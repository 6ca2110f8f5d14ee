// Package server implements the control plane: the operator API under
// /api, the agent-facing surface under /rekcod.server, the per-node engine
// proxy under /proxy.docker, and the optional dashboard mount.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/app"
	"github.com/rekcod/rekcod/internal/auth"
	"github.com/rekcod/rekcod/internal/config"
	"github.com/rekcod/rekcod/internal/db"
	"github.com/rekcod/rekcod/internal/engine"
	"github.com/rekcod/rekcod/internal/envstore"
	"github.com/rekcod/rekcod/internal/node"
)

// Server wires the control-plane components behind one handler.
type Server struct {
	cfg      *config.Server
	store    *db.Store
	nodes    *node.Manager
	apps     *app.Manager
	renderer *app.Renderer
	deployer *app.Deployer
	env      *envstore.Store
	token    string
	log      *slog.Logger

	// local is the in-process agent surface of a master node: mounted at
	// /rekcod.agent, and the fallback for /proxy.docker requests that name
	// no node.
	local http.Handler
}

// WithLocalAgent mounts an in-process agent handler, making this server
// double as a registered node.
func (s *Server) WithLocalAgent(h http.Handler) *Server {
	s.local = h
	return s
}

func New(cfg *config.Server, store *db.Store, nodes *node.Manager, apps *app.Manager,
	renderer *app.Renderer, deployer *app.Deployer, env *envstore.Store,
	token string, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		nodes:    nodes,
		apps:     apps,
		renderer: renderer,
		deployer: deployer,
		env:      env,
		token:    token,
		log:      log.With("component", "server"),
	}
}

// Handler assembles the route table. Everything except /health and the
// dashboard assets sits behind the token check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// agent-facing
	mux.HandleFunc("POST "+api.ServerPrefixPath+"/node/register", s.handleNodeRegister)
	mux.Handle(api.ServerPrefixPath+"/node/proxy/", s.agentProxy(api.ServerPrefixPath+"/node/proxy"))

	// operator API
	mux.HandleFunc("POST /api/node/list", s.handleNodeList)
	mux.HandleFunc("POST /api/node/info", s.handleNodeInfo)
	mux.HandleFunc("POST /api/node/delete", s.handleNodeDelete)
	mux.Handle("/api/node/proxy/", s.agentProxy("/api/node/proxy"))

	// per-node engine operations, node picked by the node_name query param
	mux.HandleFunc("POST /api/node/docker/info", s.handleDockerInfo)
	mux.HandleFunc("POST /api/node/docker/container/list", s.handleContainerList)
	mux.HandleFunc("POST /api/node/docker/container/inspect/{id}", s.handleContainerInspect)
	mux.HandleFunc("POST /api/node/docker/container/start/{id}", s.containerAction(
		func(cli *engine.Client, r *http.Request) error {
			return cli.StartContainer(r.Context(), r.PathValue("id"))
		}))
	mux.HandleFunc("POST /api/node/docker/container/stop/{id}", s.containerAction(
		func(cli *engine.Client, r *http.Request) error {
			return cli.StopContainer(r.Context(), r.PathValue("id"))
		}))
	mux.HandleFunc("POST /api/node/docker/container/restart/{id}", s.containerAction(
		func(cli *engine.Client, r *http.Request) error {
			return cli.RestartContainer(r.Context(), r.PathValue("id"))
		}))
	mux.HandleFunc("POST /api/node/docker/container/delete/{id}", s.containerAction(
		func(cli *engine.Client, r *http.Request) error {
			return cli.RemoveContainer(r.Context(), r.PathValue("id"),
				r.URL.Query().Get("force") == "true")
		}))
	mux.HandleFunc("POST /api/node/docker/container/logs/{id}", s.handleContainerLogs)
	mux.HandleFunc("POST /api/node/docker/image/list", s.handleImageList)
	mux.HandleFunc("POST /api/node/docker/image/pull_auto", s.handleImagePullAuto)
	mux.HandleFunc("POST /api/node/docker/network/list", s.handleNetworkList)
	mux.HandleFunc("POST /api/node/docker/volume/list", s.handleVolumeList)
	mux.HandleFunc("GET /api/node/docker/container/exec", s.handleExecTerminal)

	mux.HandleFunc("GET /api/app/list", s.handleAppList)
	mux.HandleFunc("POST /api/app/list", s.handleAppList)
	mux.HandleFunc("POST /api/app/deploy", s.handleAppDeploy)
	mux.HandleFunc("POST /api/app/delete", s.handleAppDelete)
	mux.HandleFunc("POST /api/app/{id}", s.handleAppInfo)
	mux.HandleFunc("GET /api/app/deployments", s.handleDeploymentList)
	mux.HandleFunc("GET /api/app/tmpl/content/{name}/{tmpl...}", s.handleTmplContent)
	mux.HandleFunc("POST /api/app/tmpl/render", s.handleTmplRender)

	mux.HandleFunc("GET /api/env/global", s.handleEnvGet)
	mux.HandleFunc("POST /api/env/global", s.handleEnvSet)

	// per-node engine proxy, selected by the X-NODE-NAME header
	proxy := s.dockerProxy()
	mux.Handle(api.DockerProxyPath+"/", proxy)
	mux.Handle(api.DockerProxyPath, proxy)

	if s.local != nil {
		mux.Handle(api.AgentPrefixPath+"/", s.local)
	}

	authed := recoveryMiddleware(
		loggingMiddleware(
			auth.Middleware(mux, s.token, s.log),
			s.log,
		),
		s.log,
	)

	outer := http.NewServeMux()
	outer.HandleFunc("GET /health", s.handleHealth)
	outer.Handle("/api/", authed)
	outer.Handle(api.ServerPrefixPath+"/", authed)
	outer.Handle(api.DockerProxyPath+"/", authed)
	outer.Handle(api.DockerProxyPath, authed)
	if s.local != nil {
		outer.Handle(api.AgentPrefixPath+"/", authed)
	}
	// Everything else is the dashboard, served without the token so a
	// browser can load it and prompt for the token itself.
	if s.cfg.Dashboard && s.cfg.DashboardPath != "" {
		if _, err := os.Stat(s.cfg.DashboardPath); err == nil {
			outer.Handle("GET /", http.FileServer(http.Dir(s.cfg.DashboardPath)))
			s.log.Info("dashboard mounted", "path", s.cfg.DashboardPath)
		}
	}
	return outer
}

// Start runs the HTTP listener until the context ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background()) //nolint:errcheck
	}()

	s.log.Info("server started", "addr", addr, "data", s.cfg.DataPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]string{"status": "ok"})
}

// ── middleware ──

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered", "error", rec, "stack", string(debug.Stack()))
				jsonErr(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// ── envelope writers ──

func jsonOK[T any](w http.ResponseWriter, data T) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Success(data)) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.Error[api.Empty](code, msg)) //nolint:errcheck
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return &req, true
}
