package meal

import (
	"reflect"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		student StudentAccount
		want    []Reason
	}{
		{
			name:    "eligible",
			student: StudentAccount{Balance: 100},
			want:    nil,
		},
		{
			name:    "exact balance is eligible",
			student: StudentAccount{Balance: MealCost},
			want:    nil,
		},
		{
			name:    "already served first",
			student: StudentAccount{Balance: 100, HasEatenToday: true},
			want:    []Reason{ReasonAlreadyServed},
		},
		{
			name:    "insufficient funds",
			student: StudentAccount{Balance: 20},
			want:    []Reason{ReasonInsufficientFunds},
		},
		{
			name:    "flagged with reason text",
			student: StudentAccount{Balance: 100, Flagged: true, FlagReason: "stolen card"},
			want:    []Reason{"stolen card"},
		},
		{
			name:    "flagged without reason",
			student: StudentAccount{Balance: 100, Flagged: true},
			want:    []Reason{ReasonFlagged},
		},
		{
			name:    "fixed precedence when all apply",
			student: StudentAccount{Balance: 0, HasEatenToday: true, Flagged: true},
			want:    []Reason{ReasonAlreadyServed, ReasonInsufficientFunds, ReasonFlagged},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.student)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Evaluate(%+v) = %v, want %v", tc.student, got, tc.want)
			}
		})
	}
}
