package meal

import (
	"encoding/json"
	"testing"
)

func TestParseLiveSessionNormalizesUID(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantUID string
	}{
		{"uid field", `{"state":"MATCHED","uid":"abc"}`, "abc"},
		{"studentUid field", `{"state":"MATCHED","studentUid":"abc"}`, "abc"},
		{"embedded student uid", `{"state":"MATCHED","student":{"uid":"abc","name":"Piyal"}}`, "abc"},
		{"uid wins over studentUid", `{"uid":"abc","studentUid":"xyz"}`, "abc"},
		{"no student", `{"state":"SCANNING"}`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := ParseLiveSession(json.RawMessage(tc.payload))
			if sess.UID != tc.wantUID {
				t.Fatalf("UID = %q, want %q", sess.UID, tc.wantUID)
			}
		})
	}
}

func TestParseLiveSessionInlineStudent(t *testing.T) {
	sess := ParseLiveSession(json.RawMessage(`{"state":"MATCHED","student":{"name":"Piyal","balance":80}}`))
	if sess.UID != "" {
		t.Fatalf("UID = %q, want empty", sess.UID)
	}
	if sess.InlineStudent == nil || sess.InlineStudent.Name != "Piyal" || sess.InlineStudent.Balance != 80 {
		t.Fatalf("InlineStudent = %+v", sess.InlineStudent)
	}
}

func TestParseLiveSessionEmpty(t *testing.T) {
	for _, payload := range []string{"", "null", "not json"} {
		sess := ParseLiveSession(json.RawMessage(payload))
		if sess.State != SessionIdle || sess.UID != "" {
			t.Fatalf("payload %q: session = %+v, want idle", payload, sess)
		}
	}
}

func TestParseLiveSessionLastAction(t *testing.T) {
	sess := ParseLiveSession(json.RawMessage(`{"state":"IDLE","last_action":{"type":"approve","uid":"abc","at":1700000000000,"by":"op1"}}`))
	if sess.LastAction == nil || sess.LastAction.Type != "approve" || sess.LastAction.By != "op1" {
		t.Fatalf("LastAction = %+v", sess.LastAction)
	}
}
