// Package store is the datastore collaborator: upsert-by-unique-key, insert
// and single-row lookup over a handful of tables.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned by SelectID when no row matches.
var ErrNotFound = errors.New("store: not found")

// Datastore is implemented by Postgres and Memory. Rows are referenced by
// their id only.
type Datastore interface {
	// Upsert inserts patch+onCreate, or on a conflictKey collision applies
	// only patch to the existing row.
	Upsert(ctx context.Context, table, conflictKey string, patch, onCreate *Patch) (string, error)
	Insert(ctx context.Context, table string, patch *Patch) (string, error)
	SelectID(ctx context.Context, table string, filter Filter) (string, error)
}

// Field is a tri-state optional: absent (zero value), set, or explicitly
// cleared. Absent fields are never written.
type Field[T any] struct {
	value   T
	present bool
	null    bool
}

// Set returns a present field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{value: v, present: true}
}

// Clear returns a present field that writes NULL.
func Clear[T any]() Field[T] {
	return Field[T]{present: true, null: true}
}

// Maybe is Set(v) when ok, otherwise absent.
func Maybe[T any](v T, ok bool) Field[T] {
	if !ok {
		return Field[T]{}
	}
	return Set(v)
}

func (f Field[T]) Present() bool { return f.present }
func (f Field[T]) IsNull() bool  { return f.present && f.null }

// Get returns the value when the field is set to a non-null value.
func (f Field[T]) Get() (T, bool) {
	if !f.present || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

// Patch is an ordered list of column writes.
type Patch struct {
	columns []string
	values  map[string]any
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{values: map[string]any{}}
}

// Put writes value to column; nil writes NULL.
func (p *Patch) Put(column string, value any) *Patch {
	if p.values == nil {
		p.values = map[string]any{}
	}
	if _, exists := p.values[column]; !exists {
		p.columns = append(p.columns, column)
	}
	p.values[column] = value
	return p
}

// PutField writes f to column unless f is absent.
func PutField[T any](p *Patch, column string, f Field[T]) {
	if !f.Present() {
		return
	}
	if f.IsNull() {
		p.Put(column, nil)
		return
	}
	v, _ := f.Get()
	p.Put(column, v)
}

// Columns returns the written columns in insertion order.
func (p *Patch) Columns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.columns...)
}

// Value returns the value written to column.
func (p *Patch) Value(column string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[column]
	return v, ok
}

func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.columns)
}

// Condition is one equality predicate. Column may address a JSON attribute
// as "metadata->>kommo_file_uuid".
type Condition struct {
	Column string
	Value  any
}

// Filter is a conjunction of conditions.
type Filter []Condition

// Eq builds a one-condition filter.
func Eq(column string, value any) Filter {
	return Filter{{Column: column, Value: value}}
}

// And appends a condition.
func (f Filter) And(column string, value any) Filter {
	return append(f, Condition{Column: column, Value: value})
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("store: invalid identifier %q", name)
	}
	return nil
}

// splitJSONPath splits "metadata->>key" into ("metadata", "key").
func splitJSONPath(column string) (string, string, bool) {
	col, key, ok := strings.Cut(column, "->>")
	if !ok {
		return column, "", false
	}
	return col, key, true
}
