package store

import (
	"context"
	"errors"
	"strings"
)

var ErrClosed = errors.New("store closed")

// Store is the shared state tree every component writes through. Values are
// JSON-shaped: map[string]any for branches, plain values at the leaves.
// Writing a map decomposes it into child nodes, so a later point write to a
// nested path updates just that node.
type Store interface {
	// Write sets the value at path, replacing whatever subtree was there.
	Write(ctx context.Context, path string, value any) error

	// Delete removes the subtree at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// ReadOnce returns the materialized value at path, or nil if absent.
	ReadOnce(ctx context.Context, path string) (any, error)

	// Subscribe delivers the current value at path immediately, then the
	// full value again on every change at or under path. Close on the
	// returned subscription guarantees no further deliveries.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Subscription is a live view of one path. C carries full-value snapshots;
// a nil snapshot means the path is absent. C is closed after Close, or if
// the subscriber falls too far behind and is dropped.
type Subscription struct {
	C     <-chan any
	close func()
}

func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// related reports whether a change at changed is visible to a subscriber
// at sub: one path must be a segment-wise prefix of the other, since a
// write below the subscribed path changes its materialized value and a
// write above it replaces the whole subtree.
func related(sub, changed []string) bool {
	n := len(sub)
	if len(changed) < n {
		n = len(changed)
	}
	for i := 0; i < n; i++ {
		if sub[i] != changed[i] {
			return false
		}
	}
	return true
}
