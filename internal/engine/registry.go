package engine

import (
	"fmt"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

// PersonState is the attendance state of one identity.
type PersonState struct {
	LastStatus    types.Status
	LastEventTime time.Time
}

// Outcome of a record attempt. Suppressed outcomes carry the unchanged status.
type Outcome struct {
	Recorded bool
	Status   types.Status
}

func (o Outcome) String() string {
	if o.Recorded {
		return fmt.Sprintf("Recorded(%s)", o.Status)
	}
	return fmt.Sprintf("Suppressed(%s)", o.Status)
}

// Registry alternates IN/OUT per identity and throttles repeats with a cooldown.
type Registry struct {
	gap    time.Duration
	people map[string]*PersonState
}

// NewRegistry creates an empty registry.
func NewRegistry(gap time.Duration) *Registry {
	return &Registry{gap: gap, people: make(map[string]*PersonState)}
}

// TryRecord is consulted on every live frame; only the cooldown keeps it from firing again.
func (r *Registry) TryRecord(id string, now time.Time) Outcome {
	p, ok := r.people[id]
	if !ok {
		r.people[id] = &PersonState{LastStatus: types.StatusIn, LastEventTime: now}
		return Outcome{Recorded: true, Status: types.StatusIn}
	}

	if now.Sub(p.LastEventTime) < r.gap {
		return Outcome{Recorded: false, Status: p.LastStatus}
	}

	p.LastStatus = p.LastStatus.Toggle()
	p.LastEventTime = now
	return Outcome{Recorded: true, Status: p.LastStatus}
}

// State returns a copy of id's state.
func (r *Registry) State(id string) (PersonState, bool) {
	p, ok := r.people[id]
	if !ok {
		return PersonState{}, false
	}
	return *p, true
}

// Remaining is how long id must wait before the next event can be recorded.
func (r *Registry) Remaining(id string, now time.Time) time.Duration {
	p, ok := r.people[id]
	if !ok {
		return 0
	}
	left := r.gap - now.Sub(p.LastEventTime)
	if left < 0 {
		return 0
	}
	return left
}
