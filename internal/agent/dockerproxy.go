package agent

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rekcod/rekcod/api"
)

// handleDockerProxy forwards the request verbatim to the local engine
// socket, minus the /proxy.docker prefix and the fleet token header. The
// forward is done by hand on a raw connection so connection upgrades
// (exec and attach streams) splice straight through.
func (a *Agent) handleDockerProxy(w http.ResponseWriter, r *http.Request) {
	upstream, err := dialEngine(r.Context())
	if err != nil {
		a.log.Error("engine dial", "err", err)
		jsonErr(w, http.StatusBadGateway, "engine unreachable")
		return
	}
	defer upstream.Close()

	out := r.Clone(r.Context())
	out.URL.Path = strings.TrimPrefix(r.URL.Path, api.DockerProxyPath)
	if out.URL.Path == "" {
		out.URL.Path = "/"
	}
	out.URL.Scheme = "http"
	out.URL.Host = "docker"
	out.Host = "docker"
	out.RequestURI = ""
	out.Header.Del(api.TokenHeader)

	if err := out.Write(upstream); err != nil {
		a.log.Error("engine forward", "err", err)
		jsonErr(w, http.StatusBadGateway, "engine write failed")
		return
	}

	br := bufio.NewReader(upstream)
	resp, err := http.ReadResponse(br, out)
	if err != nil {
		a.log.Error("engine response", "err", err)
		jsonErr(w, http.StatusBadGateway, "engine read failed")
		return
	}

	if resp.StatusCode == http.StatusSwitchingProtocols {
		a.splice(w, resp, upstream, br)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	// Stream the body through with per-chunk flushes so progress output
	// (pull, load) reaches the caller as it happens.
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// splice takes over the client connection and copies bytes both ways
// until either side closes.
func (a *Agent) splice(w http.ResponseWriter, resp *http.Response, upstream net.Conn, upstreamBR *bufio.Reader) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		jsonErr(w, http.StatusInternalServerError, "hijacking unsupported")
		return
	}
	client, clientRW, err := hj.Hijack()
	if err != nil {
		a.log.Error("hijack", "err", err)
		return
	}
	defer client.Close()

	if err := resp.Write(clientRW); err != nil {
		return
	}
	clientRW.Flush() //nolint:errcheck

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(upstream, clientRW) //nolint:errcheck
		if cw, ok := upstream.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite() //nolint:errcheck
		}
	}()
	go func() {
		defer wg.Done()
		// Drain through the buffered reader first: the engine may have sent
		// stream bytes alongside the 101.
		io.Copy(client, upstreamBR) //nolint:errcheck
		if cw, ok := client.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite() //nolint:errcheck
		}
	}()
	wg.Wait()
}
