package meal

import (
	"context"
	"sync"
	"testing"

	"mealgate/internal/rtdb"
)

func TestStatsEnsureCounters(t *testing.T) {
	store := rtdb.NewMemory()
	ctx := context.Background()
	stats := NewStats(store)

	if err := stats.EnsureCounters(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	snap, err := stats.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalServedToday != 0 || snap.FraudAttempts != 0 {
		t.Fatalf("snapshot = %+v, want zeros", snap)
	}

	// Existing values survive a second init.
	if err := stats.IncrementServed(ctx); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := stats.EnsureCounters(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	snap, err = stats.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalServedToday != 1 {
		t.Fatalf("served = %d, want 1", snap.TotalServedToday)
	}
}

func TestStatsConcurrentIncrements(t *testing.T) {
	store := rtdb.NewMemory()
	ctx := context.Background()
	stats := NewStats(store)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stats.IncrementServed(ctx); err != nil {
				t.Errorf("served: %v", err)
			}
			if err := stats.IncrementFraud(ctx); err != nil {
				t.Errorf("fraud: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := stats.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalServedToday != n || snap.FraudAttempts != n {
		t.Fatalf("snapshot = %+v, want %d/%d", snap, n, n)
	}
}
