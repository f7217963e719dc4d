// Package store defines the shared session store the battle clients
// coordinate through: a keyed JSON document tree with last-write-wins
// writes, field merges, compare-and-swap, and change notification. There is
// no other cross-client channel.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("path not found")
var ErrBadPath = errors.New("bad path")

// Event is one change notification: the document key and its full value
// after the change (nil if the document was deleted). Delivery is
// at-least-once; consumers must re-derive, not accumulate.
type Event struct {
	Path  string
	Value json.RawMessage
}

// Store is the only coordination primitive available to clients. Paths are
// slash separated; the first segment names the document, the rest walk into
// it. No transactions beyond per-path last-write-wins and CompareAndSwap.
type Store interface {
	// Read returns the JSON value at path, or ErrNotFound.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Write replaces the value at path, creating intermediate objects.
	Write(ctx context.Context, path string, value any) error

	// Update merges fields into the object at path without clobbering
	// sibling fields.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// CompareAndSwap writes next at path only if the current value equals
	// expected (nil expected means "absent"). Returns whether the swap
	// happened. This is the idempotence primitive for question advances and
	// bracket generation.
	CompareAndSwap(ctx context.Context, path string, expected, next any) (bool, error)

	// Subscribe streams change events for one document key (a root path).
	// The current value is delivered first. The returned cancel func stops
	// the stream.
	Subscribe(ctx context.Context, key string) (<-chan Event, func(), error)
}

// Split breaks a path into segments, rejecting empties.
func Split(path string) ([]string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, ErrBadPath
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrBadPath
		}
	}
	return parts, nil
}

// normalize round-trips a value through JSON so stored trees are plain
// map[string]any / []any / primitives and comparisons are shape-based.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
