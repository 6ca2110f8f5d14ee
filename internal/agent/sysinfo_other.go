//go:build !linux

package agent

import (
	"runtime"

	"github.com/rekcod/rekcod/api"
)

// collect returns the portable subset on platforms without /proc.
func (c *sysCollector) collect() (*api.SystemInfoResponse, error) {
	return &api.SystemInfoResponse{
		HostName:   hostname(),
		CPUCount:   runtime.NumCPU(),
		SystemName: runtime.GOOS,
		CPUArch:    runtime.GOARCH,
	}, nil
}
