// Package postgres stores entities in a single PostgreSQL table with their
// fields as JSONB.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/activism/internal/core"
)

//go:embed schema.sql
var schema string

var _ core.EntityStore = (*Store)(nil)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements core.EntityStore on PostgreSQL.
type Store struct {
	db DB
}

// New creates a store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the entities table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Load implements core.EntityStore.
func (s *Store) Load(ctx context.Context, typ, id string) (*core.Entity, error) {
	var (
		bundle string
		raw    []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT bundle, fields FROM entities WHERE type = $1 AND id = $2`,
		typ, id,
	).Scan(&bundle, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", typ, id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", typ, id, err)
	}
	return decode(id, typ, bundle, raw)
}

// Save implements core.EntityStore. New entities get a generated id; an
// existing id replaces the stored fields.
func (s *Store) Save(ctx context.Context, e *core.Entity) error {
	if e.Type == "" {
		return fmt.Errorf("save: entity without type: %w", core.ErrInvalidEntity)
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO entities (id, type, bundle, fields)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (type, id) DO UPDATE
		SET bundle = EXCLUDED.bundle, fields = EXCLUDED.fields, updated_at = now()`,
		id, e.Type, e.Bundle, fields,
	)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", e.Type, id, err)
	}
	e.ID = id
	return nil
}

// Query implements core.EntityStore. Results are in creation order.
func (s *Store) Query(ctx context.Context, q core.Query) ([]*core.Entity, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Type, err)
	}
	defer rows.Close()

	var out []*core.Entity
	for rows.Next() {
		var (
			id, bundle string
			raw        []byte
		)
		if err := rows.Scan(&id, &bundle, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Type, err)
		}
		e, err := decode(id, q.Type, bundle, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Type, err)
	}
	return out, nil
}

// Delete removes an entity. A missing entity is not an error.
func (s *Store) Delete(ctx context.Context, typ, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typ, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", typ, id, err)
	}
	return nil
}

// buildQuery renders q as SQL. A condition matches an item's value or
// target_id, mirroring core.Query.Matches.
func buildQuery(q core.Query) (string, []any, error) {
	if q.Type == "" {
		return "", nil, errors.New("query without type")
	}
	var (
		b    strings.Builder
		args = []any{q.Type}
	)
	b.WriteString(`SELECT id, bundle, fields FROM entities WHERE type = $1`)
	if q.Bundle != "" {
		args = append(args, q.Bundle)
		fmt.Fprintf(&b, ` AND bundle = $%d`, len(args))
	}
	for _, c := range q.Conditions {
		byValue, err := json.Marshal(core.FieldValue{{core.PropValue: c.Value}})
		if err != nil {
			return "", nil, err
		}
		byTarget, err := json.Marshal(core.FieldValue{{core.PropTargetID: c.Value}})
		if err != nil {
			return "", nil, err
		}
		args = append(args, c.Field, byValue, byTarget)
		n := len(args)
		fmt.Fprintf(&b, ` AND (fields -> $%d::text @> $%d::jsonb OR fields -> $%d::text @> $%d::jsonb)`, n-2, n-1, n-2, n)
	}
	b.WriteString(` ORDER BY seq`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args, nil
}

func decode(id, typ, bundle string, raw []byte) (*core.Entity, error) {
	e := &core.Entity{ID: id, Type: typ, Bundle: bundle}
	if err := json.Unmarshal(raw, &e.Fields); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", typ, id, err)
	}
	if e.Fields == nil {
		e.Fields = make(map[string]core.FieldValue)
	}
	return e, nil
}
