//go:build !windows

package agent

import (
	"context"
	"net"
	"os"
	"strings"
)

const defaultEngineSocket = "/var/run/docker.sock"

// dialEngine connects to the local engine socket, honoring a unix://
// DOCKER_HOST override.
func dialEngine(ctx context.Context) (net.Conn, error) {
	socket := defaultEngineSocket
	if host := os.Getenv("DOCKER_HOST"); strings.HasPrefix(host, "unix://") {
		socket = strings.TrimPrefix(host, "unix://")
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", socket)
}
