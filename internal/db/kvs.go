package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Kvs is one row of the composite-key table. Value is opaque UTF-8,
// typically a serialized record; it is never NULL, the empty string means
// "present but empty".
type Kvs struct {
	ID       int64  `db:"id"`
	Module   string `db:"module"`
	Key      string `db:"key"`
	SubKey   string `db:"sub_key"`
	ThirdKey string `db:"third_key"`
	Value    string `db:"value"`
}

// Filter narrows a kvs lookup below the module level. A nil field is a
// wildcard; Eq produces an exact match, including the empty string.
type Filter struct {
	Key      *string
	SubKey   *string
	ThirdKey *string
}

// Eq returns a pointer for use in a Filter.
func Eq(s string) *string { return &s }

// KvsSet exposes the kvs table operations.
type KvsSet struct {
	db *sqlx.DB
}

// Insert adds a row. A composite-key collision is an error; callers that
// want overwrite semantics use InsertOrUpdate.
func (s *KvsSet) Insert(ctx context.Context, row *Kvs) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kvs (module, key, sub_key, third_key, value) VALUES (?, ?, ?, ?, ?)`,
		row.Module, row.Key, row.SubKey, row.ThirdKey, row.Value)
	if err != nil {
		return fmt.Errorf("kvs insert %s/%s: %w", row.Module, row.Key, err)
	}
	return nil
}

// InsertOrUpdate upserts on the composite key, writing value only on
// conflict. Calling it twice with the same row is a no-op the second time.
func (s *KvsSet) InsertOrUpdate(ctx context.Context, row *Kvs) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kvs (module, key, sub_key, third_key, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (module, key, sub_key, third_key) DO UPDATE SET value = excluded.value`,
		row.Module, row.Key, row.SubKey, row.ThirdKey, row.Value)
	if err != nil {
		return fmt.Errorf("kvs upsert %s/%s: %w", row.Module, row.Key, err)
	}
	return nil
}

// UpdateValue writes value on every row matching the supplied prefix.
func (s *KvsSet) UpdateValue(ctx context.Context, module string, f Filter, value string) error {
	where, args := buildWhere(module, f)
	args = append([]any{value}, args...)
	_, err := s.db.ExecContext(ctx, `UPDATE kvs SET value = ?`+where, args...)
	if err != nil {
		return fmt.Errorf("kvs update %s: %w", module, err)
	}
	return nil
}

// UpdateRow rewrites sub_key and value of the row identified by id. The
// node registry uses this to flip a node's status while keeping the row's
// identity (the sub_key mirrors the status and is part of the composite
// key, so a plain upsert would fork the row instead).
func (s *KvsSet) UpdateRow(ctx context.Context, id int64, subKey, value string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE kvs SET sub_key = ?, value = ? WHERE id = ?`, subKey, value, id)
	if err != nil {
		return fmt.Errorf("kvs update row %d: %w", id, err)
	}
	return nil
}

// Delete removes at most one row matching the supplied prefix.
func (s *KvsSet) Delete(ctx context.Context, module string, f Filter) error {
	where, args := buildWhere(module, f)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kvs WHERE id IN (SELECT id FROM kvs`+where+` LIMIT 1)`, args...)
	if err != nil {
		return fmt.Errorf("kvs delete %s: %w", module, err)
	}
	return nil
}

// SelectOne returns the first row matching the prefix, or nil.
func (s *KvsSet) SelectOne(ctx context.Context, module string, f Filter) (*Kvs, error) {
	where, args := buildWhere(module, f)
	var row Kvs
	err := s.db.GetContext(ctx, &row, `SELECT * FROM kvs`+where+` LIMIT 1`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvs select one %s: %w", module, err)
	}
	return &row, nil
}

// Select returns every row matching the prefix.
func (s *KvsSet) Select(ctx context.Context, module string, f Filter) ([]Kvs, error) {
	where, args := buildWhere(module, f)
	var rows []Kvs
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM kvs`+where, args...); err != nil {
		return nil, fmt.Errorf("kvs select %s: %w", module, err)
	}
	return rows, nil
}

func buildWhere(module string, f Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(` WHERE module = ?`)
	args := []any{module}

	if f.Key != nil {
		sb.WriteString(` AND key = ?`)
		args = append(args, *f.Key)
	}
	if f.SubKey != nil {
		sb.WriteString(` AND sub_key = ?`)
		args = append(args, *f.SubKey)
	}
	if f.ThirdKey != nil {
		sb.WriteString(` AND third_key = ?`)
		args = append(args, *f.ThirdKey)
	}
	return sb.String(), args
}
