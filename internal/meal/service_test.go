package meal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"mealgate/internal/rtdb"
)

type captureSink struct {
	mu        sync.Mutex
	decisions []Decision
}

func (s *captureSink) Record(ctx context.Context, d Decision) error {
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()
	return nil
}

func newTestService(t *testing.T) (*Service, *rtdb.Memory, *captureSink) {
	t.Helper()
	store := rtdb.NewMemory()
	sink := &captureSink{}
	return NewService(store, sink), store, sink
}

func seedStudent(t *testing.T, store *rtdb.Memory, uid string, acct StudentAccount) {
	t.Helper()
	if err := store.Write(context.Background(), "users/"+uid, acct); err != nil {
		t.Fatalf("seed %s: %v", uid, err)
	}
}

func readStudent(t *testing.T, store *rtdb.Memory, uid string) StudentAccount {
	t.Helper()
	raw, err := store.Read(context.Background(), "users/"+uid)
	if err != nil {
		t.Fatalf("read %s: %v", uid, err)
	}
	acct, ok := decodeAccount(raw)
	if !ok {
		t.Fatalf("student %s missing", uid)
	}
	return acct
}

func readCounter(t *testing.T, store *rtdb.Memory, path string) int64 {
	t.Helper()
	raw, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return counterValue(raw)
}

func readString(t *testing.T, store *rtdb.Memory, path string) string {
	t.Helper()
	raw, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var s string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
	}
	return s
}

func TestApproveCommits(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Name: "Piyal", Balance: 100})

	outcome, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !outcome.Committed {
		t.Fatalf("expected commit, got reason %s", outcome.Reason)
	}
	if outcome.SideEffects != nil {
		t.Fatalf("unexpected side effect failures: %v", outcome.SideEffects)
	}

	acct := readStudent(t, store, "s1")
	if acct.Balance != 50 {
		t.Fatalf("balance = %d, want 50", acct.Balance)
	}
	if !acct.HasEatenToday {
		t.Fatal("has_eaten_today not set")
	}
	if got := readString(t, store, "hardware/door_lock"); got != DoorOpen {
		t.Fatalf("door = %q, want OPEN", got)
	}
	if got := readCounter(t, store, "stats/daily_report/total_served_today"); got != 1 {
		t.Fatalf("served = %d, want 1", got)
	}

	raw, _ := store.Read(context.Background(), "live_session/last_action")
	var action LastAction
	if err := json.Unmarshal(raw, &action); err != nil {
		t.Fatalf("last_action: %v", err)
	}
	if action.Type != "approve" || action.UID != "s1" || action.By != "op1" {
		t.Fatalf("last_action = %+v", action)
	}
}

func TestApproveInsufficientFunds(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 20})

	outcome, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Committed {
		t.Fatal("must not commit")
	}
	if outcome.Reason != ReasonInsufficientFunds {
		t.Fatalf("reason = %s, want INSUFFICIENT_FUNDS", outcome.Reason)
	}

	acct := readStudent(t, store, "s1")
	if acct.Balance != 20 || acct.HasEatenToday {
		t.Fatalf("student mutated on rejection: %+v", acct)
	}
	if got := readString(t, store, "hardware/door_lock"); got != "" {
		t.Fatalf("door written on rejection: %q", got)
	}
	if got := readCounter(t, store, "stats/daily_report/total_served_today"); got != 0 {
		t.Fatalf("served = %d, want 0", got)
	}
}

func TestApproveAlreadyServedRegardlessOfBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 500, HasEatenToday: true})

	outcome, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Committed || outcome.Reason != ReasonAlreadyServed {
		t.Fatalf("outcome = %+v, want ALREADY_SERVED rejection", outcome)
	}
	if acct := readStudent(t, store, "s1"); acct.Balance != 500 {
		t.Fatalf("balance changed: %d", acct.Balance)
	}
}

func TestApproveTwiceSequential(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 100})

	first, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil || !first.Committed {
		t.Fatalf("first approve: %+v, %v", first, err)
	}
	second, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if second.Committed || second.Reason != ReasonAlreadyServed {
		t.Fatalf("second outcome = %+v, want ALREADY_SERVED", second)
	}
	if acct := readStudent(t, store, "s1"); acct.Balance != 50 {
		t.Fatalf("balance = %d, want 50 (single deduction)", acct.Balance)
	}
}

func TestApproveConcurrentExactlyOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 100})

	const n = 10
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.Approve(context.Background(), "s1", "op1")
			if err != nil {
				t.Errorf("approve %d: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, out := range outcomes {
		if out.Committed {
			committed++
		} else if out.Reason != ReasonAlreadyServed {
			t.Errorf("loser reason = %s, want ALREADY_SERVED", out.Reason)
		}
	}
	if committed != 1 {
		t.Fatalf("%d of %d commits, want exactly 1", committed, n)
	}
	if acct := readStudent(t, store, "s1"); acct.Balance != 50 {
		t.Fatalf("balance = %d, want 50", acct.Balance)
	}
	if got := readCounter(t, store, "stats/daily_report/total_served_today"); got != 1 {
		t.Fatalf("served = %d, want 1 (not %d)", got, n)
	}
}

func TestApproveRecordMissing(t *testing.T) {
	svc, _, _ := newTestService(t)

	outcome, err := svc.Approve(context.Background(), "ghost", "op1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Committed || outcome.Reason != ReasonRecordMissing {
		t.Fatalf("outcome = %+v, want RECORD_MISSING", outcome)
	}
}

func TestApproveNoActiveStudent(t *testing.T) {
	svc, store, sink := newTestService(t)

	_, err := svc.Approve(context.Background(), "", "op1")
	if !errors.Is(err, ErrNoActiveStudent) {
		t.Fatalf("err = %v, want ErrNoActiveStudent", err)
	}
	// Fails fast: nothing touched the store or the sink.
	if got := readCounter(t, store, "stats/daily_report/total_served_today"); got != 0 {
		t.Fatalf("served = %d", got)
	}
	if len(sink.decisions) != 0 {
		t.Fatalf("decision recorded for validation failure: %+v", sink.decisions)
	}
}

func TestApprovePreservesUnknownFields(t *testing.T) {
	svc, store, _ := newTestService(t)
	if err := store.Write(context.Background(), "users/s1", map[string]any{
		"name":            "Piyal",
		"balance":         100,
		"has_eaten_today": false,
		"rfid_tag":        "AB12CD34",
		"meal_plan":       "monthly",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outcome, err := svc.Approve(context.Background(), "s1", "op1")
	if err != nil || !outcome.Committed {
		t.Fatalf("approve: %+v, %v", outcome, err)
	}

	raw, _ := store.Read(context.Background(), "users/s1")
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec["meal_plan"] != "monthly" || rec["rfid_tag"] != "AB12CD34" {
		t.Fatalf("unmodeled fields lost: %v", rec)
	}
}

func TestDeny(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 100})

	for i := 0; i < 2; i++ {
		if err := svc.Deny(context.Background(), "s1", "op1"); err != nil {
			t.Fatalf("deny %d: %v", i, err)
		}
	}

	if got := readCounter(t, store, "stats/daily_report/fraud_attempts"); got != 2 {
		t.Fatalf("fraud = %d, want 2 (one per call)", got)
	}
	if got := readString(t, store, "hardware/buzzer"); got != BuzzerBeep {
		t.Fatalf("buzzer = %q, want BEEP", got)
	}

	acct := readStudent(t, store, "s1")
	if acct.Balance != 100 || acct.HasEatenToday {
		t.Fatalf("deny mutated the student: %+v", acct)
	}

	raw, _ := store.Read(context.Background(), "live_session/last_action")
	var action LastAction
	if err := json.Unmarshal(raw, &action); err != nil {
		t.Fatalf("last_action: %v", err)
	}
	if action.Type != "deny" {
		t.Fatalf("last_action type = %q", action.Type)
	}
}

func TestDenyNoActiveStudent(t *testing.T) {
	svc, store, _ := newTestService(t)
	if err := svc.Deny(context.Background(), "", "op1"); !errors.Is(err, ErrNoActiveStudent) {
		t.Fatalf("err = %v, want ErrNoActiveStudent", err)
	}
	if got := readCounter(t, store, "stats/daily_report/fraud_attempts"); got != 0 {
		t.Fatalf("fraud = %d, want 0", got)
	}
}

func TestDecisionsReachSink(t *testing.T) {
	svc, store, sink := newTestService(t)
	seedStudent(t, store, "s1", StudentAccount{Balance: 100})

	if _, err := svc.Approve(context.Background(), "s1", "op1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Approve(context.Background(), "s1", "op1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := svc.Deny(context.Background(), "s1", "op2"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.decisions) != 3 {
		t.Fatalf("recorded %d decisions, want 3", len(sink.decisions))
	}
	if !sink.decisions[0].Committed || sink.decisions[0].Type != "approve" {
		t.Fatalf("first decision = %+v", sink.decisions[0])
	}
	if sink.decisions[1].Committed || sink.decisions[1].Reason != ReasonAlreadyServed {
		t.Fatalf("second decision = %+v", sink.decisions[1])
	}
	if sink.decisions[2].Type != "deny" {
		t.Fatalf("third decision = %+v", sink.decisions[2])
	}
	for _, d := range sink.decisions {
		if d.ID == "" || d.At.IsZero() {
			t.Fatalf("decision missing id/timestamp: %+v", d)
		}
	}
}
