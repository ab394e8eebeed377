package meal

import (
	"bytes"
	"encoding/json"
)

// Store paths shared by the core components. The detection pipeline, the
// hardware controller, and any other terminal instance address the same
// keys, so the strings must not drift.
const (
	sessionPath    = "live_session"
	lastActionPath = "live_session/last_action"
	servedPath     = "stats/daily_report/total_served_today"
	fraudPath      = "stats/daily_report/fraud_attempts"
	doorLockPath   = "hardware/door_lock"
	buzzerPath     = "hardware/buzzer"
)

func userPath(uid string) string { return "users/" + uid }

// Session states written by the detection pipeline.
const (
	SessionIdle     = "IDLE"
	SessionScanning = "SCANNING"
	SessionMatched  = "MATCHED"
	SessionError    = "ERROR"
)

// LastAction is the audit stamp left on the session after a decision.
type LastAction struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
	At   int64  `json:"at"` // unix milliseconds
	By   string `json:"by"`
}

// LiveSession is the normalized view of the live_session record. The raw
// payload is loosely shaped — the detector has written the student reference
// as `uid`, `studentUid`, or an embedded `student` object at various points —
// so ParseLiveSession resolves that to a single UID at the boundary and
// nothing past this type ever sees the ambiguity.
type LiveSession struct {
	State      string
	UID        string
	LastAction *LastAction

	// InlineStudent is set only when the payload embeds a student object
	// with no resolvable uid; the watcher publishes it as-is.
	InlineStudent *StudentAccount
}

type rawSession struct {
	State      string          `json:"state"`
	UID        string          `json:"uid"`
	StudentUID string          `json:"studentUid"`
	Student    json.RawMessage `json:"student"`
	LastAction *LastAction     `json:"last_action"`
}

// ParseLiveSession normalizes a live_session snapshot. A nil or null payload
// yields an idle session with no student.
func ParseLiveSession(raw json.RawMessage) LiveSession {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return LiveSession{State: SessionIdle}
	}
	var rs rawSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return LiveSession{State: SessionIdle}
	}

	sess := LiveSession{State: rs.State, LastAction: rs.LastAction}
	if sess.State == "" {
		sess.State = SessionIdle
	}

	switch {
	case rs.UID != "":
		sess.UID = rs.UID
	case rs.StudentUID != "":
		sess.UID = rs.StudentUID
	case len(rs.Student) > 0:
		if acct, ok := decodeAccount(rs.Student); ok {
			if acct.UID != "" {
				sess.UID = acct.UID
			} else {
				sess.InlineStudent = &acct
			}
		}
	}
	return sess
}
