package meal

import (
	"context"
	"encoding/json"

	"mealgate/internal/rtdb"
)

// DailyStats are the dashboard counters. Both reset externally at the day
// boundary; the core only ever increments.
type DailyStats struct {
	TotalServedToday int64 `json:"total_served_today"`
	FraudAttempts    int64 `json:"fraud_attempts"`
}

// Stats wraps the store's atomic update into named monotonic counters.
// Increments are commutative, so concurrent terminals never under- or
// over-count.
type Stats struct {
	store rtdb.Store
}

// NewStats creates the aggregator.
func NewStats(store rtdb.Store) *Stats {
	return &Stats{store: store}
}

// IncrementServed bumps the served counter by one.
func (s *Stats) IncrementServed(ctx context.Context) error {
	return s.increment(ctx, servedPath)
}

// IncrementFraud bumps the fraud counter by one.
func (s *Stats) IncrementFraud(ctx context.Context) error {
	return s.increment(ctx, fraudPath)
}

func (s *Stats) increment(ctx context.Context, path string) error {
	_, err := s.store.Update(ctx, path, func(old json.RawMessage) (json.RawMessage, bool) {
		n := counterValue(old)
		next, _ := json.Marshal(n + 1)
		return next, true
	})
	return err
}

// EnsureCounters initializes missing counters to zero so the dashboard never
// renders a null. Existing values are left untouched.
func (s *Stats) EnsureCounters(ctx context.Context) error {
	for _, path := range []string{servedPath, fraudPath} {
		_, err := s.store.Update(ctx, path, func(old json.RawMessage) (json.RawMessage, bool) {
			if len(old) > 0 && string(old) != "null" {
				return old, true
			}
			return json.RawMessage("0"), true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reads both counters.
func (s *Stats) Snapshot(ctx context.Context) (DailyStats, error) {
	var out DailyStats
	raw, err := s.store.Read(ctx, servedPath)
	if err != nil {
		return out, err
	}
	out.TotalServedToday = counterValue(raw)
	raw, err = s.store.Read(ctx, fraudPath)
	if err != nil {
		return out, err
	}
	out.FraudAttempts = counterValue(raw)
	return out, nil
}

func counterValue(raw json.RawMessage) int64 {
	var n int64
	if len(raw) == 0 {
		return 0
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}
