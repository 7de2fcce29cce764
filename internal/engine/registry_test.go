package engine

import (
	"testing"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

func TestRegistry_TryRecord(t *testing.T) {
	r := NewRegistry(10 * time.Second)

	steps := []struct {
		at   time.Duration
		want Outcome
	}{
		{0, Outcome{Recorded: true, Status: types.StatusIn}},
		{5 * time.Second, Outcome{Recorded: false, Status: types.StatusIn}},
		{9999 * time.Millisecond, Outcome{Recorded: false, Status: types.StatusIn}},
		{10 * time.Second, Outcome{Recorded: true, Status: types.StatusOut}},
		{12 * time.Second, Outcome{Recorded: false, Status: types.StatusOut}},
		{25 * time.Second, Outcome{Recorded: true, Status: types.StatusIn}},
	}

	for _, s := range steps {
		got := r.TryRecord("S001", t0.Add(s.at))
		if got != s.want {
			t.Errorf("t+%s: got %s, want %s", s.at, got, s.want)
		}
	}

	st, ok := r.State("S001")
	if !ok || !st.LastEventTime.Equal(t0.Add(25*time.Second)) {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestRegistry_IndependentIdentities(t *testing.T) {
	r := NewRegistry(10 * time.Second)
	if out := r.TryRecord("a", t0); out.Status != types.StatusIn || !out.Recorded {
		t.Fatalf("a: %s", out)
	}
	if out := r.TryRecord("b", t0.Add(time.Second)); out.Status != types.StatusIn || !out.Recorded {
		t.Fatalf("b should not be throttled by a: %s", out)
	}
}

func TestRegistry_Remaining(t *testing.T) {
	r := NewRegistry(10 * time.Second)
	if r.Remaining("x", t0) != 0 {
		t.Error("unknown identity should have no cooldown")
	}
	r.TryRecord("x", t0)
	if got := r.Remaining("x", t0.Add(4*time.Second)); got != 6*time.Second {
		t.Errorf("Remaining() = %s, want 6s", got)
	}
	if got := r.Remaining("x", t0.Add(time.Minute)); got != 0 {
		t.Errorf("Remaining() = %s, want 0", got)
	}
}

func TestOutcome_String(t *testing.T) {
	if s := (Outcome{Recorded: true, Status: types.StatusOut}).String(); s != "Recorded(OUT)" {
		t.Errorf("got %q", s)
	}
	if s := (Outcome{Status: types.StatusIn}).String(); s != "Suppressed(IN)" {
		t.Errorf("got %q", s)
	}
}
