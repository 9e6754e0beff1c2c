package calls

import "testing"

func TestIsValidTransition_FullMatrix(t *testing.T) {
	all := []Status{StatusRinging, StatusActive, StatusEnded, StatusMissed, StatusRejected, StatusVoicemail}

	legal := map[Status]map[Status]bool{
		StatusRinging: {
			StatusActive:    true,
			StatusEnded:     true,
			StatusMissed:    true,
			StatusRejected:  true,
			StatusVoicemail: true,
		},
		StatusActive: {
			StatusEnded:     true,
			StatusVoicemail: true,
		},
	}

	for _, cur := range all {
		for _, next := range all {
			want := cur == next || legal[cur][next]
			if got := IsValidTransition(cur, next); got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", cur, next, got, want)
			}
		}
	}
}

func TestIsValidTransition_TerminalSelfLoopsOnly(t *testing.T) {
	terminals := []Status{StatusEnded, StatusMissed, StatusRejected, StatusVoicemail}
	all := []Status{StatusRinging, StatusActive, StatusEnded, StatusMissed, StatusRejected, StatusVoicemail}

	for _, cur := range terminals {
		if !cur.IsTerminal() {
			t.Errorf("%s should be terminal", cur)
		}
		for _, next := range all {
			got := IsValidTransition(cur, next)
			if (next == cur) != got {
				t.Errorf("terminal %s → %s = %v", cur, next, got)
			}
		}
	}
}

func TestIsValidTransition_TotalOnUnknownValues(t *testing.T) {
	if IsValidTransition(Status("bogus"), StatusActive) {
		t.Errorf("unknown current must not transition anywhere new")
	}
	if !IsValidTransition(Status("bogus"), Status("bogus")) {
		t.Errorf("self-transition is legal even for unknown values")
	}
	if IsValidTransition(StatusRinging, Status("bogus")) {
		t.Errorf("unknown next must be rejected")
	}
}
