package db

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.sqlite") + "?mode=rwc"
	s, err := Open(context.Background(), url, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndSelectOne(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := &Kvs{Module: "node", Key: "n1", SubKey: "online", Value: `{"ip":"10.0.0.1"}`}
	if err := s.Kvs.Insert(ctx, row); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Kvs.SelectOne(ctx, "node", Filter{Key: Eq("n1")})
	if err != nil {
		t.Fatalf("SelectOne: %v", err)
	}
	if got == nil {
		t.Fatal("expected a row")
	}
	if got.Value != row.Value || got.SubKey != "online" {
		t.Errorf("got %+v, want value %q sub_key %q", got, row.Value, "online")
	}
}

func TestSelectOneMiss(t *testing.T) {
	s := testStore(t)

	got, err := s.Kvs.SelectOne(context.Background(), "node", Filter{Key: Eq("ghost")})
	if err != nil {
		t.Fatalf("SelectOne: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := &Kvs{Module: "node", Key: "n1", SubKey: "online", Value: "a"}
	if err := s.Kvs.Insert(ctx, row); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := s.Kvs.Insert(ctx, row); err == nil {
		t.Fatal("second Insert on the same composite key should fail")
	}
}

func TestInsertOrUpdateIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := &Kvs{Module: "app", Key: "web1", Value: "v1"}
	if err := s.Kvs.InsertOrUpdate(ctx, row); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.Kvs.InsertOrUpdate(ctx, row); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := s.Kvs.Select(ctx, "app", Filter{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	// Overwrite through the same path.
	row.Value = "v2"
	if err := s.Kvs.InsertOrUpdate(ctx, row); err != nil {
		t.Fatalf("upsert v2: %v", err)
	}
	got, _ := s.Kvs.SelectOne(ctx, "app", Filter{Key: Eq("web1")})
	if got == nil || got.Value != "v2" {
		t.Errorf("value = %v, want v2", got)
	}
}

func TestSelectWildcards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seed := []Kvs{
		{Module: "node", Key: "n1", SubKey: "online", Value: "1"},
		{Module: "node", Key: "n2", SubKey: "offline", Value: "2"},
		{Module: "node", Key: "n3", SubKey: "online", Value: "3"},
		{Module: "env", Key: "global", Value: "A=1"},
	}
	for i := range seed {
		if err := s.Kvs.Insert(ctx, &seed[i]); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	tests := []struct {
		name   string
		module string
		filter Filter
		want   int
	}{
		{"module only", "node", Filter{}, 3},
		{"by sub_key", "node", Filter{SubKey: Eq("online")}, 2},
		{"by key", "node", Filter{Key: Eq("n2")}, 1},
		{"empty sub_key exact", "env", Filter{Key: Eq("global"), SubKey: Eq("")}, 1},
		{"no match", "node", Filter{Key: Eq("n9")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Kvs.Select(ctx, tt.module, tt.filter)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestUpdateValueByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Kvs.Insert(ctx, &Kvs{Module: "node", Key: "n1", SubKey: "online", Value: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Kvs.UpdateValue(ctx, "node", Filter{Key: Eq("n1")}, "new"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}

	got, _ := s.Kvs.SelectOne(ctx, "node", Filter{Key: Eq("n1")})
	if got == nil || got.Value != "new" {
		t.Errorf("value = %v, want new", got)
	}
	// sub_key untouched by UpdateValue
	if got.SubKey != "online" {
		t.Errorf("sub_key = %q, want online", got.SubKey)
	}
}

func TestUpdateRowFlipsSubKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Kvs.Insert(ctx, &Kvs{Module: "node", Key: "n1", SubKey: "online", Value: "v"}); err != nil {
		t.Fatal(err)
	}
	row, _ := s.Kvs.SelectOne(ctx, "node", Filter{Key: Eq("n1")})
	if err := s.Kvs.UpdateRow(ctx, row.ID, "offline", "v2"); err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}

	got, _ := s.Kvs.SelectOne(ctx, "node", Filter{Key: Eq("n1")})
	if got.SubKey != "offline" || got.Value != "v2" {
		t.Errorf("got %+v, want sub_key offline value v2", got)
	}
	if got.ID != row.ID {
		t.Errorf("row identity changed: %d != %d", got.ID, row.ID)
	}
}

func TestDeleteLimitOne(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := s.Kvs.Insert(ctx, &Kvs{Module: "m", Key: k}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Kvs.Delete(ctx, "m", Filter{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rows, _ := s.Kvs.Select(ctx, "m", Filter{})
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1 (delete is limit 1)", len(rows))
	}
}
