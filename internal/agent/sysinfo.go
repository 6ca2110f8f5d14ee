package agent

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rekcod/rekcod/api"
)

// sysRefreshInterval caps how often the collector re-reads the system.
// Dashboards poll aggressively; one snapshot per second is plenty.
const sysRefreshInterval = time.Second

// sysCollector samples host metrics. CPU usage is a delta between
// consecutive samples, so the collector keeps the previous counters.
type sysCollector struct {
	mu        sync.Mutex
	sampledAt time.Time
	cached    *api.SystemInfoResponse

	prevBusy  uint64
	prevTotal uint64
}

func newSysCollector() *sysCollector {
	return &sysCollector{}
}

// Collect returns the current snapshot, reusing the cached one inside the
// refresh interval.
func (c *sysCollector) Collect() (*api.SystemInfoResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.sampledAt) < sysRefreshInterval {
		return c.cached, nil
	}

	info, err := c.collect()
	if err != nil {
		return nil, err
	}
	c.cached = info
	c.sampledAt = time.Now()
	return info, nil
}

// sysIdentity is the stable part of the snapshot used for registration.
type sysIdentity struct {
	hostName      string
	arch          string
	os            string
	osVersion     string
	osLongVersion string
	kernel        string
}

func (c *sysCollector) identity() (sysIdentity, error) {
	info, err := c.Collect()
	if err != nil {
		return sysIdentity{}, err
	}
	return sysIdentity{
		hostName:      info.HostName,
		arch:          info.CPUArch,
		os:            info.SystemName,
		osVersion:     info.OSVersion,
		osLongVersion: info.LongOSVersion,
		kernel:        info.KernelVersion,
	}, nil
}

func (a *Agent) handleSys(w http.ResponseWriter, r *http.Request) {
	info, err := a.sys.Collect()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonOK(w, *info)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
