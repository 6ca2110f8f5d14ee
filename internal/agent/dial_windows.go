//go:build windows

package agent

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const defaultEnginePipe = `\\.\pipe\docker_engine`

// dialEngine connects to the engine's named pipe.
func dialEngine(ctx context.Context) (net.Conn, error) {
	return winio.DialPipeContext(ctx, defaultEnginePipe)
}
