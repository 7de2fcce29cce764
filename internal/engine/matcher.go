package engine

import (
	"math"

	"github.com/andresmejia3/turnstile/internal/types"
)

// Matcher resolves an embedding to the nearest known identity.
type Matcher struct {
	known     []types.KnownIdentity
	tolerance float64
}

// NewMatcher keeps known in its given order; ties resolve to the earliest entry.
func NewMatcher(known []types.KnownIdentity, tolerance float64) *Matcher {
	return &Matcher{known: known, tolerance: tolerance}
}

// Match returns the identity at the minimum Euclidean distance and confidence = 1 - distance.
// ok is false when nothing lies within tolerance; confidence is still reported in that case.
func (m *Matcher) Match(embedding []float64) (id string, ok bool, confidence float64) {
	if len(m.known) == 0 {
		return "", false, 0.0
	}

	best := -1
	minDist := math.Inf(1)
	for i, k := range m.known {
		d := euclidean(embedding, k.Embedding)
		// strict < keeps the first occurrence on ties
		if d < minDist {
			minDist = d
			best = i
		}
	}
	if best == -1 {
		return "", false, 0.0
	}

	confidence = 1 - minDist
	if minDist <= m.tolerance {
		return m.known[best].ID, true, confidence
	}
	return "", false, confidence
}

// Dim is the embedding length every query embedding must have.
func (m *Matcher) Dim() int {
	if len(m.known) == 0 {
		return 0
	}
	return len(m.known[0].Embedding)
}

func euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
