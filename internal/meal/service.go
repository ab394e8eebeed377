package meal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mealgate/internal/metrics"
	"mealgate/internal/rtdb"
)

// ErrNoActiveStudent is returned when a decision is attempted with no
// student on the session. Fails before any store access.
var ErrNoActiveStudent = errors.New("no active student")

// Decision is the audit record emitted after every approve/deny, committed
// or not. Consumed by the worker, which persists it.
type Decision struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // approve | deny
	UID       string    `json:"uid"`
	Operator  string    `json:"operator"`
	Committed bool      `json:"committed"`
	Reason    Reason    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// DecisionSink receives decision records. Recording is best effort: a sink
// failure never alters the decision outcome.
type DecisionSink interface {
	Record(ctx context.Context, d Decision) error
}

// Outcome reports an approval attempt. Exactly one of two terminal states:
// Committed with the deduction applied, or rejected with the authoritative
// Reason derived from the post-attempt store snapshot. SideEffects carries
// failures of the follow-up hardware/stats/audit writes after a commit —
// the deduction stands regardless.
type Outcome struct {
	Committed   bool
	Reason      Reason
	SideEffects error
}

// Service runs the approval protocol against the shared store. The only
// hard guarantee lives in the single atomic update inside Approve: no
// student is served twice and no balance goes negative, no matter how many
// terminals race on the same record.
type Service struct {
	store rtdb.Store
	stats *Stats
	hw    *Hardware
	sink  DecisionSink
	now   func() time.Time
}

// NewService wires the transaction over a store. sink may be nil.
func NewService(store rtdb.Store, sink DecisionSink) *Service {
	return &Service{
		store: store,
		stats: NewStats(store),
		hw:    NewHardware(store),
		sink:  sink,
		now:   time.Now,
	}
}

// Stats exposes the counter aggregator sharing this service's store.
func (s *Service) Stats() *Stats { return s.stats }

// Hardware exposes the signaler sharing this service's store.
func (s *Service) Hardware() *Hardware { return s.hw }

// Approve deducts one meal from the student atomically and, on success,
// opens the door, bumps the served counter, and stamps last_action. The
// eligibility check runs inside the store's atomic update against the
// current record — never against whatever snapshot the terminal rendered —
// so of N concurrent attempts at most one commits and the rest observe the
// committed state.
func (s *Service) Approve(ctx context.Context, uid, operatorID string) (Outcome, error) {
	if uid == "" {
		return Outcome{}, ErrNoActiveStudent
	}

	res, err := s.store.Update(ctx, userPath(uid), func(old json.RawMessage) (json.RawMessage, bool) {
		rec := decodeRecord(old)
		if rec == nil {
			return nil, false
		}
		if boolField(rec, "has_eaten_today") {
			return nil, false
		}
		balance := intField(rec, "balance")
		if balance < MealCost {
			return nil, false
		}
		rec["balance"] = balance - MealCost
		rec["has_eaten_today"] = true
		next, err := json.Marshal(rec)
		if err != nil {
			return nil, false
		}
		return next, true
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("approve %s: %w", uid, err)
	}

	if !res.Committed {
		reason := rejectionReason(res.Value)
		metrics.Decisions.WithLabelValues("approve", "rejected").Inc()
		metrics.Rejections.WithLabelValues(string(reason)).Inc()
		s.record(ctx, Decision{Type: "approve", UID: uid, Operator: operatorID, Reason: reason})
		return Outcome{Committed: false, Reason: reason}, nil
	}

	// The deduction is committed; everything below is independent and best
	// effort. A failure here is surfaced but never rolls back the balance.
	var side []error
	if err := s.hw.OpenDoor(ctx); err != nil {
		side = append(side, fmt.Errorf("door open: %w", err))
	}
	if err := s.stats.IncrementServed(ctx); err != nil {
		side = append(side, fmt.Errorf("served counter: %w", err))
	}
	if err := s.writeLastAction(ctx, "approve", uid, operatorID); err != nil {
		side = append(side, fmt.Errorf("last action: %w", err))
	}

	metrics.Decisions.WithLabelValues("approve", "committed").Inc()
	if len(side) > 0 {
		metrics.SideEffectFailures.Inc()
	}
	s.record(ctx, Decision{Type: "approve", UID: uid, Operator: operatorID, Committed: true})

	return Outcome{Committed: true, SideEffects: errors.Join(side...)}, nil
}

// Deny records a fraud attempt: bump the fraud counter, sound the buzzer,
// stamp last_action. There is no eligibility gate — deny is always
// permitted for a non-empty uid and never touches the student record.
func (s *Service) Deny(ctx context.Context, uid, operatorID string) error {
	if uid == "" {
		return ErrNoActiveStudent
	}

	var side []error
	if err := s.stats.IncrementFraud(ctx); err != nil {
		side = append(side, fmt.Errorf("fraud counter: %w", err))
	}
	if err := s.hw.Beep(ctx); err != nil {
		side = append(side, fmt.Errorf("buzzer: %w", err))
	}
	if err := s.writeLastAction(ctx, "deny", uid, operatorID); err != nil {
		side = append(side, fmt.Errorf("last action: %w", err))
	}

	metrics.Decisions.WithLabelValues("deny", "recorded").Inc()
	s.record(ctx, Decision{Type: "deny", UID: uid, Operator: operatorID})

	return errors.Join(side...)
}

func (s *Service) writeLastAction(ctx context.Context, action, uid, operatorID string) error {
	return s.store.Write(ctx, lastActionPath, LastAction{
		Type: action,
		UID:  uid,
		At:   s.now().UnixMilli(),
		By:   operatorID,
	})
}

func (s *Service) record(ctx context.Context, d Decision) {
	if s.sink == nil {
		return
	}
	d.ID = uuid.NewString()
	d.At = s.now().UTC()
	if err := s.sink.Record(ctx, d); err != nil {
		log.Printf("decision record failed: %v", err)
	}
}

// rejectionReason derives the authoritative failure reason from the
// post-attempt snapshot, in the same precedence the evaluator uses. Stale
// terminal state is never consulted.
func rejectionReason(snapshot json.RawMessage) Reason {
	acct, ok := decodeAccount(snapshot)
	if !ok {
		return ReasonRecordMissing
	}
	if reasons := Evaluate(acct); len(reasons) > 0 {
		return reasons[0]
	}
	return ReasonUnknown
}

// decodeRecord parses a user record into a generic map so the mutation
// preserves fields this service does not model (pin, rfid_tag, anything the
// provisioning side adds later). Nil for absent or malformed records.
func decodeRecord(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	return rec
}

func boolField(rec map[string]any, key string) bool {
	v, _ := rec[key].(bool)
	return v
}

func intField(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
