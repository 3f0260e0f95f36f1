package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/wolfman30/rental-ops/internal/kommo"
)

// ErrInvalidBody is returned when the body is neither JSON nor a bracketed
// form payload.
var ErrInvalidBody = errors.New("webhook: body is neither JSON nor form-encoded")

// ParseBody decodes a webhook body. JSON objects are tried first; anything
// else is read as application/x-www-form-urlencoded with bracket nesting, so
// leads[status][0][id]=55 becomes {"leads":{"status":[{"id":"55"}]}}.
func ParseBody(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrInvalidBody
	}
	if payload, ok := parseJSON(trimmed); ok {
		return payload, nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return nil, ErrInvalidBody
	}
	payload, err := parseForm(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return payload, nil
}

func parseJSON(body []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return payload, true
}

func parseForm(body string) (map[string]any, error) {
	for _, pair := range strings.Split(body, "&") {
		if pair != "" && !strings.Contains(pair, "=") {
			return nil, fmt.Errorf("pair %q has no value", pair)
		}
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("no fields")
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := map[string]any{}
	for _, key := range keys {
		path, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		for _, v := range values[key] {
			if err := assign(root, path, v); err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
		}
	}
	return compact(root).(map[string]any), nil
}

// splitKey turns a[b][0][] into ["a", "b", "0", ""].
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		if strings.ContainsRune(key, ']') {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		return []string{key}, nil
	}
	if open == 0 {
		return nil, fmt.Errorf("malformed key %q", key)
	}
	path := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		seg := rest[1:end]
		if strings.ContainsRune(seg, '[') {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		path = append(path, seg)
		rest = rest[end+1:]
	}
	return path, nil
}

// assign writes value at path. An empty segment appends.
func assign(node map[string]any, path []string, value string) error {
	for i, seg := range path {
		if seg == "" {
			seg = strconv.Itoa(len(node))
		}
		if i == len(path)-1 {
			if _, exists := node[seg]; exists {
				if _, isMap := node[seg].(map[string]any); isMap {
					return errors.New("value conflicts with nested fields")
				}
			}
			node[seg] = value
			return nil
		}
		child, exists := node[seg]
		if !exists {
			next := map[string]any{}
			node[seg] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return errors.New("nested fields conflict with value")
		}
		node = next
	}
	return nil
}

// compact converts maps whose keys are all non-negative integers into slices
// ordered by index.
func compact(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = compact(child)
	}
	if len(m) == 0 {
		return m
	}
	indexes := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || strconv.Itoa(n) != k {
			return m
		}
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	out := make([]any, 0, len(indexes))
	for _, n := range indexes {
		out = append(out, m[strconv.Itoa(n)])
	}
	return out
}

// StatusEvents extracts leads.status. A missing or non-array value yields no
// events.
func StatusEvents(payload map[string]any) []kommo.StatusEvent {
	leadsNode, ok := payload["leads"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := leadsNode["status"].([]any)
	if !ok {
		return nil
	}
	events := make([]kommo.StatusEvent, 0, len(list))
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			raw = map[string]any{"value": item}
		}
		events = append(events, kommo.StatusEvent{
			LeadID:      toInt64(raw["id"]),
			StatusID:    toInt64(raw["status_id"]),
			PipelineID:  toInt64(raw["pipeline_id"]),
			OldStatusID: toInt64(raw["old_status_id"]),
			Raw:         raw,
		})
	}
	return events
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}
