package node

import (
	"context"
	"time"

	"github.com/rekcod/rekcod/internal/db"
)

const (
	sweepInterval    = 5 * time.Second
	offlineThreshold = 15 * time.Second
)

// Monitor flips nodes offline when their registrations stop arriving.
// Agents register every ten seconds, so the fifteen-second threshold
// tolerates one lost heartbeat.
type Monitor struct {
	mgr *Manager
}

func NewMonitor(mgr *Manager) *Monitor {
	return &Monitor{mgr: mgr}
}

// Run warms the cache and sweeps until the context ends.
func (mo *Monitor) Run(ctx context.Context) {
	if _, err := mo.mgr.GetAllNodes(ctx, true); err != nil {
		mo.mgr.log.Error("node monitor warm-up", "err", err)
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mo.sweep(ctx)
		}
	}
}

func (mo *Monitor) sweep(ctx context.Context) {
	now := time.Now()
	for _, st := range mo.mgr.snapshot() {
		mo.mgr.mu.RLock()
		online := st.Node.Status
		stale := now.Sub(st.Heartbeat) > offlineThreshold
		name := st.Node.Name
		mo.mgr.mu.RUnlock()

		switch {
		case online && stale:
			if err := mo.setStatus(ctx, name, false); err != nil {
				mo.mgr.log.Error("node offline mark", "node", name, "err", err)
			}
		case !online && !stale:
			if err := mo.setStatus(ctx, name, true); err != nil {
				mo.mgr.log.Error("node online mark", "node", name, "err", err)
			}
		}
	}
}

// setStatus rewrites the node's row with the new status and mirrors the
// change into the cache. The row is re-read so a registration racing the
// sweep is not overwritten with stale fields.
func (mo *Monitor) setStatus(ctx context.Context, name string, online bool) error {
	row, err := mo.mgr.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq(name)})
	if err != nil || row == nil {
		return err
	}
	n, err := decode(row)
	if err != nil {
		return err
	}
	n.Status = online

	value, err := n.encode()
	if err != nil {
		return err
	}
	if err := mo.mgr.store.Kvs.UpdateRow(ctx, row.ID, n.statusSubKey(), value); err != nil {
		return err
	}

	mo.mgr.mu.Lock()
	if st, ok := mo.mgr.nodes[name]; ok {
		st.Node = n
		st.RowID = row.ID
	}
	mo.mgr.mu.Unlock()

	if online {
		mo.mgr.log.Info("node online", "node", name)
	} else {
		mo.mgr.log.Warn("node offline", "node", name)
	}
	return nil
}
