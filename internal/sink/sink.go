// Package sink persists recorded attendance events.
package sink

import (
	"context"
	"errors"

	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/sirupsen/logrus"
)

// Sink is satisfied by every writer in this package and by store.Store.
type Sink interface {
	Append(ctx context.Context, ev types.AttendanceEvent) error
}

// Named pairs a sink with a name for log lines.
type Named struct {
	Name string
	Sink Sink
}

// Multi fans an event out to several sinks in order. Every sink is tried
// even when an earlier one fails.
type Multi struct {
	sinks []Named
	log   logrus.FieldLogger
}

// NewMulti builds a fan-out over sinks.
func NewMulti(log logrus.FieldLogger, sinks ...Named) *Multi {
	return &Multi{sinks: sinks, log: log}
}

// Add appends another sink to the fan-out.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, Named{Name: name, Sink: s})
}

// Len is the number of wired sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Append(ctx context.Context, ev types.AttendanceEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Append(ctx, ev); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"sink":     s.Name,
				"identity": ev.IdentityID,
				"status":   ev.Status,
			}).Warn("sink append failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
