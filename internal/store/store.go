// Package store is the narrow realtime-store interface the replication layer is written against, with
// an in-process implementation for hot-seat play and tests, and a Redis implementation for
// networked rooms.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotObject is returned by Update when the stored value is not a JSON object.
var ErrNotObject = errors.New("store: value is not an object")

// Change is delivered to subscribers whenever a value or list under their pattern is written.
type Change struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// Decode unmarshals the changed value into dst.
func (c Change) Decode(dst any) error {
	return json.Unmarshal(c.Value, dst)
}

// Entry is one element of a push list.
type Entry struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Decode unmarshals the entry value into dst.
func (e Entry) Decode(dst any) error {
	return json.Unmarshal(e.Value, dst)
}

// Store is a keyed JSON store with subscriptions, push lists and disconnect hooks. Paths are
// slash-separated, e.g. rooms/AB3K7P/state.
type Store interface {
	// Set replaces the value at path.
	Set(ctx context.Context, path string, value any) error
	// Get decodes the value at path into dst. ok is false when nothing is stored there.
	Get(ctx context.Context, path string, dst any) (ok bool, err error)
	// Claim stores value at path only when nothing is stored there yet, and reports whether this
	// call stored it.
	Claim(ctx context.Context, path string, value any) (claimed bool, err error)
	// Update merges patch into the JSON object at path, creating it if needed. A nil patch value
	// removes that field.
	Update(ctx context.Context, path string, patch map[string]any) error
	// Delete removes path and everything stored beneath it.
	Delete(ctx context.Context, path string) error
	// Children returns every value stored beneath prefix keyed by full path.
	Children(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Subscribe calls fn for every change matching pattern, in write order. A pattern ending in
	// "/*" matches every path beneath it. Values already stored when the subscription starts are
	// delivered first.
	Subscribe(ctx context.Context, pattern string, fn func(Change)) (cancel func(), err error)

	// Push appends value to the list at path and returns the new entry's id.
	Push(ctx context.Context, path string, value any) (id string, err error)
	// Pop removes and returns the oldest entry of the list at path.
	Pop(ctx context.Context, path string) (entry Entry, ok bool, err error)

	// OnDisconnect registers patch to be merged into path when this client goes away without
	// cancelling the hook first.
	OnDisconnect(ctx context.Context, path string, patch map[string]any) (cancel func(), err error)
}

// Match reports whether path matches pattern.
func Match(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func merge(current []byte, patch map[string]any) ([]byte, error) {
	obj := map[string]any{}
	if len(current) > 0 && string(current) != "null" {
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, ErrNotObject
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}
