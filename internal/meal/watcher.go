package meal

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"mealgate/internal/rtdb"
)

// Snapshot is what the watcher publishes: the normalized session plus the
// resolved student record, nil when the session carries no student or the
// record is missing.
type Snapshot struct {
	Session LiveSession
	Student *StudentAccount
}

// Watcher keeps a live subscription on the session path and resolves the
// referenced student to a full account snapshot. Session updates can arrive
// faster than point reads complete, so every resolution is tagged with a
// generation number and a resolve that finishes after a newer session update
// is dropped instead of clobbering the newer snapshot (last write wins).
type Watcher struct {
	store rtdb.Store

	mu        sync.Mutex
	gen       uint64
	published uint64
	current   Snapshot
	observers []func(Snapshot)

	ctx context.Context
}

// NewWatcher creates a watcher over store. Register observers before Start.
func NewWatcher(store rtdb.Store) *Watcher {
	return &Watcher{store: store}
}

// OnChange registers fn to be called with every published snapshot.
func (w *Watcher) OnChange(fn func(Snapshot)) {
	w.mu.Lock()
	w.observers = append(w.observers, fn)
	w.mu.Unlock()
}

// Start subscribes to the session path. The returned function tears the
// subscription down; ctx bounds the point reads used to resolve students.
func (w *Watcher) Start(ctx context.Context) (func(), error) {
	w.ctx = ctx
	return w.store.Subscribe(sessionPath, w.handle)
}

// Current returns the most recently published snapshot.
func (w *Watcher) Current() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) handle(raw json.RawMessage) {
	sess := ParseLiveSession(raw)

	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	if sess.UID == "" {
		w.publish(gen, Snapshot{Session: sess, Student: sess.InlineStudent})
		return
	}

	// Resolve off the subscription callback; the result is discarded when a
	// newer session update has arrived in the meantime.
	go func() {
		var student *StudentAccount
		val, err := w.store.Read(w.ctx, userPath(sess.UID))
		if err != nil {
			log.Printf("session watcher: resolve %s failed: %v", sess.UID, err)
		} else if acct, ok := decodeAccount(val); ok {
			acct.UID = sess.UID
			student = &acct
		}
		w.publish(gen, Snapshot{Session: sess, Student: student})
	}()
}

func (w *Watcher) publish(gen uint64, snap Snapshot) {
	w.mu.Lock()
	if gen < w.published {
		w.mu.Unlock()
		return // stale resolve for an older session update
	}
	w.published = gen
	w.current = snap
	obs := make([]func(Snapshot), len(w.observers))
	copy(obs, w.observers)
	w.mu.Unlock()

	for _, fn := range obs {
		fn(snap)
	}
}
