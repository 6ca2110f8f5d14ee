package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/node"
)

type proxyTargetKey struct{}

// proxyTarget is the resolved upstream for one proxied request: the node's
// base URL and the rewritten path on it.
type proxyTarget struct {
	url  *url.URL
	path string
}

func withProxyTarget(ctx context.Context, t *proxyTarget) context.Context {
	return context.WithValue(ctx, proxyTargetKey{}, t)
}

// newNodeProxy is the shared reverse proxy core: it forwards to the target
// resolved into the request context, stamping the fleet token. httputil
// handles connection upgrades, so exec and attach streams ride through.
func (s *Server) newNodeProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		// Negative flush pushes progress output through as it arrives.
		FlushInterval: -1,
		Rewrite: func(pr *httputil.ProxyRequest) {
			t := pr.In.Context().Value(proxyTargetKey{}).(*proxyTarget)
			pr.SetURL(t.url)
			pr.Out.URL.Path = t.path
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = t.url.Host
			pr.Out.Header.Set(api.TokenHeader, s.token)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Error("node proxy", "node", r.Header.Get(api.NodeNameHeader), "err", err)
			jsonErr(w, http.StatusBadGateway, "node unreachable")
		},
	}
}

// resolveProxyNode maps the X-NODE-NAME header to an online node. Failures
// answer 400 so probing cannot tell an unknown node from an offline one.
func (s *Server) resolveProxyNode(w http.ResponseWriter, r *http.Request) (*node.State, bool) {
	name := r.Header.Get(api.NodeNameHeader)
	if name == "" {
		jsonErr(w, http.StatusBadRequest, api.NodeNameHeader+" header is required")
		return nil, false
	}
	st, err := s.nodes.GetNode(r.Context(), name)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if st == nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown node %q", name))
		return nil, false
	}
	if !st.Node.Status {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("node %q is offline", name))
		return nil, false
	}
	return st, true
}

// dockerProxy forwards /proxy.docker requests to the node named by the
// X-NODE-NAME header. The path is passed through untouched: the agent
// serves the same prefix.
func (s *Server) dockerProxy() http.Handler {
	proxy := s.newNodeProxy()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(api.NodeNameHeader) == "" && s.local != nil {
			// On a master the bare path is the local node's engine.
			s.local.ServeHTTP(w, r)
			return
		}
		st, ok := s.resolveProxyNode(w, r)
		if !ok {
			return
		}
		target := &proxyTarget{
			url:  &url.URL{Scheme: "http", Host: st.Node.Addr()},
			path: r.URL.Path,
		}
		proxy.ServeHTTP(w, r.WithContext(withProxyTarget(r.Context(), target)))
	})
}

// agentProxy forwards node-surface requests to the named agent: the mount
// prefix is stripped and the tail lands under /rekcod.agent on the node.
func (s *Server) agentProxy(strip string) http.Handler {
	proxy := s.newNodeProxy()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := s.resolveProxyNode(w, r)
		if !ok {
			return
		}
		tail := strings.TrimPrefix(r.URL.Path, strip)
		if !strings.HasPrefix(tail, "/") {
			tail = "/" + tail
		}
		target := &proxyTarget{
			url:  &url.URL{Scheme: "http", Host: st.Node.Addr()},
			path: api.AgentPrefixPath + tail,
		}
		proxy.ServeHTTP(w, r.WithContext(withProxyTarget(r.Context(), target)))
	})
}
