package agent

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/events"
)

const eventPollInterval = 5 * time.Second

// eventJob drains the engine's event stream in five-second windows and
// logs container lifecycle transitions. Polling bounded windows instead of
// holding one stream open keeps a daemon restart from wedging the job.
func (a *Agent) eventJob(ctx context.Context) {
	since := time.Now()

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := time.Now()
			a.drainEvents(ctx, since, until)
			since = until
		}
	}
}

func (a *Agent) drainEvents(ctx context.Context, since, until time.Time) {
	msgs, errs := a.docker.Events(ctx, events.ListOptions{
		Since: since.Format(time.RFC3339Nano),
		Until: until.Format(time.RFC3339Nano),
	})
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			// io.EOF ends every bounded window
			if err != nil && ctx.Err() == nil {
				a.log.Debug("event window closed", "err", err)
			}
			return
		case msg := <-msgs:
			if msg.Type == events.ContainerEventType {
				a.log.Debug("engine event",
					"action", msg.Action, "container", msg.Actor.ID, "name", msg.Actor.Attributes["name"])
			}
		}
	}
}
