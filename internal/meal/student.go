package meal

import (
	"bytes"
	"encoding/json"
)

// MealCost is the fixed deduction, in the smallest currency unit, per served meal.
const MealCost = 50

// Reason identifies why a student is (or was) refused a meal. Flagged
// accounts carry their flag text as the reason, so values beyond the
// constants below appear in practice.
type Reason string

const (
	ReasonAlreadyServed     Reason = "ALREADY_SERVED"
	ReasonInsufficientFunds Reason = "INSUFFICIENT_FUNDS"
	ReasonFlagged           Reason = "FLAGGED"
	ReasonRecordMissing     Reason = "RECORD_MISSING"
	ReasonUnknown           Reason = "TRANSACTION_FAILED"
)

// StudentAccount mirrors the users/{uid} record in the realtime store.
type StudentAccount struct {
	Name          string `json:"name"`
	Role          string `json:"role,omitempty"`
	Balance       int64  `json:"balance"`
	HasEatenToday bool   `json:"has_eaten_today"`
	PIN           string `json:"pin,omitempty"`
	RFIDTag       string `json:"rfid_tag,omitempty"`
	Status        string `json:"status,omitempty"`
	Flagged       bool   `json:"flagged,omitempty"`
	FlagReason    string `json:"flag_reason,omitempty"`
	UID           string `json:"uid,omitempty"`
}

// Evaluate returns the student's ineligibility reasons in fixed precedence:
// already served, then insufficient funds, then flagged. An empty slice
// means eligible. The result is advisory — it drives terminal UI state and
// is never the authority for a deduction; Service.Approve re-checks inside
// the store's atomic update.
func Evaluate(s StudentAccount) []Reason {
	var reasons []Reason
	if s.HasEatenToday {
		reasons = append(reasons, ReasonAlreadyServed)
	}
	if s.Balance < MealCost {
		reasons = append(reasons, ReasonInsufficientFunds)
	}
	if s.Flagged {
		r := Reason(s.FlagReason)
		if r == "" {
			r = ReasonFlagged
		}
		reasons = append(reasons, r)
	}
	return reasons
}

// decodeAccount parses a store snapshot into a StudentAccount. The second
// return is false for an absent record (nil or JSON null) or garbage.
func decodeAccount(raw json.RawMessage) (StudentAccount, bool) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return StudentAccount{}, false
	}
	var acct StudentAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return StudentAccount{}, false
	}
	return acct, true
}
