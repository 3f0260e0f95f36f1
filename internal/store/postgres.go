package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Datastore with INSERT ... ON CONFLICT upserts.
type Postgres struct {
	db rowQuerier
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Postgres{db: pool}
}

func newPostgresWithQuerier(q rowQuerier) *Postgres {
	if q == nil {
		panic("store: querier required")
	}
	return &Postgres{db: q}
}

func (s *Postgres) Upsert(ctx context.Context, table, conflictKey string, patch, onCreate *Patch) (string, error) {
	if err := validIdent(table); err != nil {
		return "", err
	}
	if err := validIdent(conflictKey); err != nil {
		return "", err
	}
	if _, ok := patch.Value(conflictKey); !ok {
		return "", fmt.Errorf("store: upsert %s: conflict key %s missing from patch", table, conflictKey)
	}

	columns := patch.Columns()
	args := make([]any, 0, len(columns)+onCreate.Len())
	for _, col := range columns {
		v, _ := patch.Value(col)
		args = append(args, v)
	}
	for _, col := range onCreate.Columns() {
		if _, dup := patch.Value(col); dup {
			continue
		}
		v, _ := onCreate.Value(col)
		columns = append(columns, col)
		args = append(args, v)
	}
	for _, col := range columns {
		if err := validIdent(col); err != nil {
			return "", err
		}
	}

	var updates []string
	for _, col := range patch.Columns() {
		if col == conflictKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	if len(updates) == 0 {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", conflictKey, conflictKey))
	}
	if _, ok := patch.Value("updated_at"); !ok {
		updates = append(updates, "updated_at = now()")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING id::text",
		table, strings.Join(columns, ", "), placeholders(1, len(columns)), conflictKey, strings.Join(updates, ", "),
	)
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("store: upsert %s: %w", table, err)
	}
	return id, nil
}

func (s *Postgres) Insert(ctx context.Context, table string, patch *Patch) (string, error) {
	if err := validIdent(table); err != nil {
		return "", err
	}
	columns := patch.Columns()
	if len(columns) == 0 {
		return "", fmt.Errorf("store: insert %s: empty patch", table)
	}
	args := make([]any, 0, len(columns))
	for _, col := range columns {
		if err := validIdent(col); err != nil {
			return "", err
		}
		v, _ := patch.Value(col)
		args = append(args, v)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		table, strings.Join(columns, ", "), placeholders(1, len(columns)),
	)
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("store: insert %s: %w", table, err)
	}
	return id, nil
}

func (s *Postgres) SelectID(ctx context.Context, table string, filter Filter) (string, error) {
	if err := validIdent(table); err != nil {
		return "", err
	}
	if len(filter) == 0 {
		return "", fmt.Errorf("store: select %s: empty filter", table)
	}
	where := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for i, cond := range filter {
		col, key, isPath := splitJSONPath(cond.Column)
		if err := validIdent(col); err != nil {
			return "", err
		}
		if isPath {
			if err := validIdent(key); err != nil {
				return "", err
			}
			where = append(where, fmt.Sprintf("%s->>'%s' = $%d", col, key, i+1))
			args = append(args, fmt.Sprint(cond.Value))
			continue
		}
		where = append(where, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, cond.Value)
	}
	query := fmt.Sprintf("SELECT id::text FROM %s WHERE %s LIMIT 1", table, strings.Join(where, " AND "))
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: select %s: %w", table, err)
	}
	return id, nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
