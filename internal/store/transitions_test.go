package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"check-in", "unregistered", true},
		{"check-in", "checked-in", false},
		{"call", "checked-in", true},
		{"call", "unregistered", false},
		{"start", "called", true},
		{"start", "checked-in", false},
		{"finish", "in-consultation", true},
		{"finish", "called", false},
		{"pay", "finished", true},
		{"pay", "in-consultation", false},
		{"cancel", "unregistered", true},
		{"cancel", "checked-in", true},
		{"cancel", "called", true},
		{"cancel", "in-consultation", true},
		{"cancel", "finished", true},
		{"cancel", "paid", false},
		{"cancel", "cancelled", false},
		{"pay", "paid", false},
		{"unknown", "unregistered", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTargetStatus(t *testing.T) {
	cases := []struct {
		action string
		status string
		ok     bool
	}{
		{"check-in", "checked-in", true},
		{"call", "called", true},
		{"start", "in-consultation", true},
		{"finish", "finished", true},
		{"pay", "paid", true},
		{"cancel", "cancelled", true},
		{"recall", "", false},
	}
	for _, tt := range cases {
		status, ok := TargetStatus(tt.action)
		if status != tt.status || ok != tt.ok {
			t.Fatalf("TargetStatus(%q)=(%q,%v), want (%q,%v)", tt.action, status, ok, tt.status, tt.ok)
		}
	}
}
