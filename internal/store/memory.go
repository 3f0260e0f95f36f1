package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Datastore for local runs and tests. Values are
// stored as written; rows carry an "id" column.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{tables: map[string][]map[string]any{}, now: time.Now}
}

func (m *Memory) Upsert(ctx context.Context, table, conflictKey string, patch, onCreate *Patch) (string, error) {
	key, ok := patch.Value(conflictKey)
	if !ok {
		return "", fmt.Errorf("store: upsert %s: conflict key %s missing from patch", table, conflictKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.tables[table] {
		if sameValue(row[conflictKey], key) {
			apply(row, patch)
			row["updated_at"] = m.now()
			return row["id"].(string), nil
		}
	}
	row := m.newRow()
	apply(row, onCreate)
	apply(row, patch)
	m.tables[table] = append(m.tables[table], row)
	return row["id"].(string), nil
}

func (m *Memory) Insert(ctx context.Context, table string, patch *Patch) (string, error) {
	if patch.Len() == 0 {
		return "", fmt.Errorf("store: insert %s: empty patch", table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.newRow()
	apply(row, patch)
	m.tables[table] = append(m.tables[table], row)
	return row["id"].(string), nil
}

func (m *Memory) SelectID(ctx context.Context, table string, filter Filter) (string, error) {
	if len(filter) == 0 {
		return "", fmt.Errorf("store: select %s: empty filter", table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.tables[table] {
		if matches(row, filter) {
			return row["id"].(string), nil
		}
	}
	return "", ErrNotFound
}

// Rows returns shallow copies of every row in table.
func (m *Memory) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Count returns the number of rows in table.
func (m *Memory) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *Memory) newRow() map[string]any {
	now := m.now()
	return map[string]any{
		"id":         uuid.NewString(),
		"created_at": now,
		"updated_at": now,
	}
}

func apply(row map[string]any, patch *Patch) {
	for _, col := range patch.Columns() {
		v, _ := patch.Value(col)
		row[col] = v
	}
}

func matches(row map[string]any, filter Filter) bool {
	for _, cond := range filter {
		col, key, isPath := splitJSONPath(cond.Column)
		if !isPath {
			if !sameValue(row[col], cond.Value) {
				return false
			}
			continue
		}
		doc, ok := row[col].(map[string]any)
		if !ok {
			return false
		}
		v, ok := doc[key]
		if !ok || v == nil || fmt.Sprint(v) != fmt.Sprint(cond.Value) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
