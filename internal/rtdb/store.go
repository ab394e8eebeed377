package rtdb

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable wraps transport failures talking to the backing store.
// Callers surface it as a generic store error and may retry manually;
// nothing in this package retries on its own.
var ErrUnavailable = errors.New("rtdb: store unavailable")

// UpdateFunc is the read-modify-write body of an atomic Update. It receives
// the current value at the path (nil when the path is empty) and returns the
// replacement value plus a commit flag. Returning false aborts the update
// without writing. The function may be invoked more than once when the path
// is contended, so it must be side-effect free.
type UpdateFunc func(old json.RawMessage) (json.RawMessage, bool)

// UpdateResult reports the outcome of an atomic Update. Value is the
// authoritative post-attempt snapshot of the path: the committed value on
// success, or the value that caused the abort.
type UpdateResult struct {
	Committed bool
	Value     json.RawMessage
}

// Store is a key-path addressable realtime store: point reads, last-write-wins
// writes, path subscriptions, and a linearizable read-modify-write per path.
type Store interface {
	// Read returns the JSON value at path, or nil when the path is empty.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Write marshals value and stores it at path, overwriting any prior value.
	Write(ctx context.Context, path string, value any) error

	// Subscribe delivers the current value immediately and then every
	// subsequent value written to path, until the returned function is called.
	// Delivery is asynchronous with respect to writers.
	Subscribe(path string, fn func(json.RawMessage)) (func(), error)

	// Update runs fn atomically against path. Concurrent updates on the same
	// path are serialized; at most one of a set of conflicting attempts
	// commits, and the rest re-run fn against the committed value.
	Update(ctx context.Context, path string, fn UpdateFunc) (UpdateResult, error)
}
