package node

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/db"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.sqlite") + "?mode=rwc"
	store, err := db.Open(context.Background(), url, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, log)
}

func registerReq(name string) *api.RegisterNodeRequest {
	return &api.RegisterNodeRequest{
		Name: name, HostName: name + "-host", IP: "10.0.0.1", Port: 6734,
		Token: "tok", Version: "0.1.0", Arch: "x86_64", OS: "linux",
		OSVersion: "6.1", OSKernel: "6.1.0", Status: true,
	}
}

func TestRegisterNewNode(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	st, err := m.GetNode(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if st == nil || !st.Node.Status || st.Node.Addr() != "10.0.0.1:6734" {
		t.Errorf("state = %+v", st)
	}

	row, _ := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq("n1")})
	if row == nil || row.SubKey != StatusOnline {
		t.Errorf("row = %+v, want sub_key online", row)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	m := testManager(t)
	req := registerReq("n1")
	req.IP = ""
	if err := m.Register(context.Background(), req); err == nil {
		t.Fatal("expected an error for missing ip")
	}
}

func TestRegisterIdenticalRefreshesHeartbeatOnly(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	first, _ := m.GetNode(ctx, "n1")

	// Backdate, then register identical fields again.
	m.mu.Lock()
	first.Heartbeat = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	second, _ := m.GetNode(ctx, "n1")
	if second != first {
		t.Error("identical registration should keep the cached state")
	}
	if time.Since(second.Heartbeat) > time.Second {
		t.Errorf("heartbeat not refreshed: %v", second.Heartbeat)
	}
}

func TestGetNodeSharesEngineClient(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}

	a, err := m.GetNode(ctx, "n1")
	if err != nil || a == nil {
		t.Fatalf("GetNode: %v %v", a, err)
	}
	if a.Engine == nil {
		t.Fatal("state has no engine client")
	}

	// Repeated lookups and the list path all hand out the same state, and
	// with it the same client and transport.
	b, _ := m.GetNode(ctx, "n1")
	if b != a || b.Engine != a.Engine {
		t.Error("lookup rebuilt the state")
	}
	all, err := m.GetAllNodes(ctx, true)
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAllNodes: %v %v", all, err)
	}
	if all[0].Engine != a.Engine {
		t.Error("list path rebuilt the engine client")
	}
}

func TestRegisterUpdateRebuildsLookedUpState(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	stale, _ := m.GetNode(ctx, "n1")

	req := registerReq("n1")
	req.IP = "10.0.0.9"
	if err := m.Register(ctx, req); err != nil {
		t.Fatal(err)
	}

	// The materialized state must come from the rewritten row, never from
	// anything read before the update landed.
	fresh, _ := m.GetNode(ctx, "n1")
	if fresh == stale {
		t.Fatal("update left the old state pinned")
	}
	if fresh.Node.IP != "10.0.0.9" {
		t.Errorf("ip = %q, want 10.0.0.9", fresh.Node.IP)
	}
	if fresh.Engine == stale.Engine || !strings.Contains(fresh.Engine.Host(), "10.0.0.9") {
		t.Errorf("engine host = %q, want the new address", fresh.Engine.Host())
	}
}

func TestRegisterChangedKeepsRowIdentity(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	before, _ := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq("n1")})

	req := registerReq("n1")
	req.IP = "10.0.0.2"
	req.Status = false
	if err := m.Register(ctx, req); err != nil {
		t.Fatal(err)
	}

	after, _ := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq("n1")})
	if after.ID != before.ID {
		t.Errorf("row forked: %d != %d", after.ID, before.ID)
	}
	if after.SubKey != StatusOffline {
		t.Errorf("sub_key = %q, want offline", after.SubKey)
	}

	st, _ := m.GetNode(ctx, "n1")
	if st.Node.IP != "10.0.0.2" || st.Node.Status {
		t.Errorf("cache not rebuilt: %+v", st.Node)
	}
}

func TestGetAllNodesFiltersOffline(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	off := registerReq("n2")
	off.Status = false
	if err := m.Register(ctx, off); err != nil {
		t.Fatal(err)
	}

	online, err := m.GetAllNodes(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 1 || online[0].Node.Name != "n1" {
		t.Errorf("online = %+v", online)
	}

	all, _ := m.GetAllNodes(ctx, true)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestMonitorSweepFlipsStaleNodes(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	mo := NewMonitor(m)

	if err := m.Register(ctx, registerReq("fresh")); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(ctx, registerReq("stale")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		age  time.Duration
		want bool // online after sweep
	}{
		{"fresh", 14*time.Second + 999*time.Millisecond, true},
		{"stale", 15*time.Second + time.Millisecond, false},
	}
	for _, tt := range tests {
		st, _ := m.GetNode(ctx, tt.name)
		m.mu.Lock()
		st.Heartbeat = time.Now().Add(-tt.age)
		m.mu.Unlock()
	}

	mo.sweep(ctx)

	for _, tt := range tests {
		st, _ := m.GetNode(ctx, tt.name)
		if st.Node.Status != tt.want {
			t.Errorf("%s online = %v, want %v", tt.name, st.Node.Status, tt.want)
		}
		row, _ := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq(tt.name)})
		wantSub := StatusOnline
		if !tt.want {
			wantSub = StatusOffline
		}
		if row.SubKey != wantSub {
			t.Errorf("%s sub_key = %q, want %q", tt.name, row.SubKey, wantSub)
		}
	}
}

func TestMonitorSweepRevivesFreshOfflineNode(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	mo := NewMonitor(m)

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}

	// Push the node offline, then hand it a fresh heartbeat: the next sweep
	// must bring it back.
	st, _ := m.GetNode(ctx, "n1")
	m.mu.Lock()
	st.Heartbeat = time.Now().Add(-16 * time.Second)
	m.mu.Unlock()
	mo.sweep(ctx)

	if st, _ := m.GetNode(ctx, "n1"); st.Node.Status {
		t.Fatal("node should be offline after the stale sweep")
	}

	m.RefreshHeartbeat(ctx, "n1")
	mo.sweep(ctx)

	st, _ = m.GetNode(ctx, "n1")
	if !st.Node.Status {
		t.Error("node should be back online")
	}
	row, _ := m.store.Kvs.SelectOne(ctx, Module, db.Filter{Key: db.Eq("n1")})
	if row.SubKey != StatusOnline {
		t.Errorf("sub_key = %q, want %q", row.SubKey, StatusOnline)
	}
}

func TestDeleteNodeDropsCacheOnly(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.Register(ctx, registerReq("n1")); err != nil {
		t.Fatal(err)
	}
	m.DeleteNode("n1")

	m.mu.RLock()
	_, cached := m.nodes["n1"]
	m.mu.RUnlock()
	if cached {
		t.Error("cache entry should be gone")
	}

	st, err := m.GetNode(ctx, "n1")
	if err != nil || st == nil {
		t.Fatalf("row should survive: %v %v", st, err)
	}
}
