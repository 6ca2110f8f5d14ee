package agent

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

const (
	restartSweepInterval = 10 * time.Second
	// restartDebounce spaces restart attempts per container so a
	// crash-looping service does not get hammered.
	restartDebounce = 60 * time.Second
)

// restartJob sweeps exited containers and restarts every one of them,
// spaced by the debounce window. The engine's own restart policies cover
// most cases; the job catches containers left behind by a daemon restart
// or stopped by an engine failure.
func (a *Agent) restartJob(ctx context.Context) {
	lastAttempt := map[string]time.Time{}

	ticker := time.NewTicker(restartSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.restartSweep(ctx, lastAttempt)
		}
	}
}

func (a *Agent) restartSweep(ctx context.Context, lastAttempt map[string]time.Time) {
	exited, err := a.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("status", "exited")),
	})
	if err != nil {
		a.log.Warn("restart sweep list", "err", err)
		return
	}

	now := time.Now()
	seen := map[string]bool{}
	for _, c := range exited {
		seen[c.ID] = true
		if !dueForRestart(lastAttempt, c.ID, now) {
			continue
		}
		if err := a.docker.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
			a.log.Warn("restart", "container", c.ID, "err", err)
			continue
		}
		a.log.Info("container restarted", "container", c.ID)
	}

	// Prune attempts for containers that are gone or running again.
	for id := range lastAttempt {
		if !seen[id] {
			delete(lastAttempt, id)
		}
	}
}

// dueForRestart stamps now and reports true when the container's last
// attempt is outside the debounce window. A container never attempted is
// always due.
func dueForRestart(lastAttempt map[string]time.Time, id string, now time.Time) bool {
	if now.Sub(lastAttempt[id]) < restartDebounce {
		return false
	}
	lastAttempt[id] = now
	return true
}
