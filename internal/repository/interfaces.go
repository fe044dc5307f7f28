package repository

import (
	"context"
	"encoding/json"
	"errors"
)

// Snapshot is the full value of a node: child key to encoded child value.
// An empty snapshot means the node is absent.
type Snapshot map[string]json.RawMessage

// Listener receives the current value of a node on registration and after every change.
// Listeners must not write to the store from inside the callback.
type Listener func(Snapshot)

// CancelFunc stops a subscription. Calling it more than once is safe.
type CancelFunc func()

// DocumentStore is the realtime document store the application keeps its state in.
//
// Paths have one to three segments: "node", "node/key" and "node/key/field".
// Writing nil deletes the value at the path.
type DocumentStore interface {
	// Subscribe registers fn on a node until the returned cancel func is called.
	Subscribe(ctx context.Context, node string, fn Listener) (CancelFunc, error)

	// Set replaces the value at path wholesale.
	Set(ctx context.Context, path string, value any) error

	// Update applies path to value patches atomically relative to each other.
	// Field patches addressing a missing record are skipped.
	Update(ctx context.Context, updates map[string]any) error

	// Push stores value under a new time-ordered key of node and returns the key.
	Push(ctx context.Context, node string, value any) (string, error)

	// Remove deletes the value at path.
	Remove(ctx context.Context, path string) error

	// Stats returns backend statistics for the admin endpoint.
	Stats(ctx context.Context) (map[string]interface{}, error)

	// Close releases connections and stops all subscriptions.
	Close() error
}

var (
	// ErrInvalidPath is returned for empty paths or paths deeper than three segments.
	ErrInvalidPath = errors.New("invalid store path")

	// ErrInvalidValue is returned when a node is set to something other than an object.
	ErrInvalidValue = errors.New("node value must be an object")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
