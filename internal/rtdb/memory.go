package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store for dev and tests. Update uses per-path
// versioning so that simulated concurrent callers contend the same way they
// would against the real backend: the update function runs outside the lock
// and the commit is rejected and retried when another caller got there first.
type Memory struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	version map[string]uint64
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string]json.RawMessage),
		version: make(map[string]uint64),
		subs:    make(map[string]map[int]func(json.RawMessage)),
	}
}

// Read returns the value at path, nil when absent.
func (m *Memory) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[path], nil
}

// Write stores value at path and notifies subscribers.
func (m *Memory) Write(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	m.mu.Lock()
	m.data[path] = raw
	m.version[path]++
	subs := m.subscribersLocked(path)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(raw)
	}
	return nil
}

// Subscribe registers fn for path and delivers the current value synchronously.
func (m *Memory) Subscribe(path string, fn func(json.RawMessage)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]func(json.RawMessage))
	}
	m.subs[path][id] = fn
	current := m.data[path]
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs[path], id)
		m.mu.Unlock()
	}, nil
}

// Update runs fn in a compare-and-set loop against path.
func (m *Memory) Update(ctx context.Context, path string, fn UpdateFunc) (UpdateResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return UpdateResult{}, err
		}

		m.mu.Lock()
		old := m.data[path]
		ver := m.version[path]
		m.mu.Unlock()

		next, commit := fn(old)
		if !commit {
			m.mu.Lock()
			current := m.data[path]
			m.mu.Unlock()
			return UpdateResult{Committed: false, Value: current}, nil
		}

		m.mu.Lock()
		if m.version[path] != ver {
			m.mu.Unlock()
			continue // lost the race, re-run fn against the new value
		}
		m.data[path] = next
		m.version[path]++
		subs := m.subscribersLocked(path)
		m.mu.Unlock()
		for _, sub := range subs {
			sub(next)
		}
		return UpdateResult{Committed: true, Value: next}, nil
	}
}

func (m *Memory) subscribersLocked(path string) []func(json.RawMessage) {
	out := make([]func(json.RawMessage), 0, len(m.subs[path]))
	for _, fn := range m.subs[path] {
		out = append(out, fn)
	}
	return out
}
