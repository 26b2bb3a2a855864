package state

import "testing"

func TestTransitions(t *testing.T) {
	allowed := map[[2]State]bool{
		{Pending, Completed}: true,
		{Pending, Failed}:    true,
	}
	for _, from := range AllStates() {
		for _, to := range AllStates() {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if CanTransition("queued", Completed) {
		t.Fatalf("unknown source state must not transition")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := map[State]bool{
		Pending:   false,
		Completed: true,
		Failed:    true,
		"":        false,
	}
	for s, want := range tests {
		if got := IsTerminal(s); got != want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	for _, s := range AllStates() {
		got, err := Parse(string(s))
		if err != nil || got != s {
			t.Fatalf("Parse(%q) = %q, %v", s, got, err)
		}
	}
	for _, bad := range []string{"", "queued", "PENDING"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) expected error", bad)
		}
	}
}
