package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/db"
	"github.com/rekcod/rekcod/internal/engine"
)

// State is one cached node: the decoded record, its shared engine client,
// its row id, and the last heartbeat. The manager's lock guards every
// field; the engine client is safe for concurrent use and every caller
// gets the same one.
type State struct {
	Node      *Node
	Engine    *engine.Client
	RowID     int64
	Heartbeat time.Time
}

// newState decodes a row and builds the node's engine client once; the
// client lives as long as the state does.
func newState(row *db.Kvs) (*State, error) {
	n, err := decode(row)
	if err != nil {
		return nil, err
	}
	cli, err := engine.New(n.BaseURL(), n.Token, 0)
	if err != nil {
		return nil, err
	}
	return &State{Node: n, Engine: cli, RowID: row.ID, Heartbeat: time.Now()}, nil
}

// Manager is the registry facade over the kvs node rows. Reads prefer the
// cache; writes go to the store first and then invalidate or update the
// cache so the two never drift for long.
type Manager struct {
	store *db.Store
	log   *slog.Logger

	mu    sync.RWMutex
	nodes map[string]*State
}

func NewManager(store *db.Store, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With("component", "node"),
		nodes: make(map[string]*State),
	}
}

// GetNode returns the cached state for name, materializing it from the
// store on a miss. Returns nil when the node was never registered.
func (m *Manager) GetNode(ctx context.Context, name string) (*State, error) {
	m.mu.RLock()
	st, ok := m.nodes[name]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}
	return m.materialize(ctx, name)
}

// GetAllNodes reloads the registry from the store, reconciles the cache
// with it, and returns the states. With all=false only online nodes are
// returned (the cache still holds everything).
func (m *Manager) GetAllNodes(ctx context.Context, all bool) ([]*State, error) {
	rows, err := m.store.Kvs.Select(ctx, Module, db.Filter{})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(rows) == 0 {
		clear(m.nodes)
	}
	seen := make(map[string]bool, len(rows))
	out := make([]*State, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		seen[row.Key] = true
		st, ok := m.nodes[row.Key]
		if !ok {
			st, err = newState(row)
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.nodes[row.Key] = st
		}
		if all || st.Node.Status {
			out = append(out, st)
		}
	}
	// Drop cache entries whose rows disappeared.
	for name := range m.nodes {
		if !seen[name] {
			delete(m.nodes, name)
		}
	}
	m.mu.Unlock()

	return out, nil
}

// Register handles one agent registration, which doubles as the heartbeat:
// a new node is inserted, a changed one rewritten in place, an identical
// one only refreshes the heartbeat.
func (m *Manager) Register(ctx context.Context, req *api.RegisterNodeRequest) error {
	if req.Name == "" || req.IP == "" || req.Port == 0 {
		return fmt.Errorf("register: name, ip and port are required")
	}
	incoming := FromRegisterRequest(req)

	row, err := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq(req.Name)})
	if err != nil {
		return err
	}

	switch {
	case row == nil:
		value, err := incoming.encode()
		if err != nil {
			return err
		}
		// The store write and the cache invalidation happen under the write
		// lock, so a concurrent lookup can never re-pin a pre-write row.
		m.mu.Lock()
		err = m.store.Kvs.Insert(ctx, &db.Kvs{
			Module: Module, Key: incoming.Name, SubKey: incoming.statusSubKey(), Value: value,
		})
		if err == nil {
			delete(m.nodes, incoming.Name)
		}
		m.mu.Unlock()
		if err != nil {
			return err
		}
		m.log.Info("node registered", "node", incoming.Name, "addr", incoming.Addr())

	default:
		current, err := decode(row)
		if err != nil {
			return err
		}
		if !current.equal(incoming) {
			value, err := incoming.encode()
			if err != nil {
				return err
			}
			m.mu.Lock()
			err = m.store.Kvs.UpdateRow(ctx, row.ID, incoming.statusSubKey(), value)
			if err == nil {
				delete(m.nodes, incoming.Name)
			}
			m.mu.Unlock()
			if err != nil {
				return err
			}
			m.log.Info("node updated", "node", incoming.Name, "addr", incoming.Addr())
		}
	}

	m.RefreshHeartbeat(ctx, req.Name)
	return nil
}

// RefreshHeartbeat stamps now on the node's cached state, materializing it
// first when needed.
func (m *Manager) RefreshHeartbeat(ctx context.Context, name string) {
	st, err := m.GetNode(ctx, name)
	if err != nil || st == nil {
		return
	}
	m.mu.Lock()
	st.Heartbeat = time.Now()
	m.mu.Unlock()
}

// DeleteNode drops the cached state. The row stays; the next GetAllNodes
// rebuilds the entry if the node is still registered.
func (m *Manager) DeleteNode(name string) {
	m.mu.Lock()
	delete(m.nodes, name)
	m.mu.Unlock()
}

// snapshot returns the cached states without touching the store.
func (m *Manager) snapshot() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*State, 0, len(m.nodes))
	for _, st := range m.nodes {
		out = append(out, st)
	}
	return out
}

// materialize loads name's row and caches its state. The row read happens
// under the write lock so a registration racing the lookup cannot leave a
// stale state pinned. Returns nil when the node was never registered.
func (m *Manager) materialize(ctx context.Context, name string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.nodes[name]; ok {
		return st, nil
	}
	row, err := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq(name)})
	if err != nil || row == nil {
		return nil, err
	}
	st, err := newState(row)
	if err != nil {
		return nil, err
	}
	m.nodes[name] = st
	return st, nil
}
