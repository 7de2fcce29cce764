package types

import (
	"fmt"
	"strings"
	"time"
)

// FaceResult is one face reported by the Python worker
type FaceResult struct {
	Loc [4]int    // [left, top, right, bottom] in pixels
	Vec []float64 // face encoding, empty when extraction failed
}

// Point is a landmark position in pixel space.
type Point struct {
	X, Y float64
}

// FaceMesh holds the six eye landmarks of each eye, in the order
// corner, upper-outer, corner, lower, lower-outer, lower-inner
// (mesh indices 33,159,133,145,153,154 and 263,386,362,374,380,381).
type FaceMesh struct {
	LeftEye  [6]Point
	RightEye [6]Point
}

// DetectResult is the worker's answer for one frame
type DetectResult struct {
	Faces []FaceResult
	Mesh  *FaceMesh // nil when no face mesh was found
}

// KnownIdentity is a reference embedding loaded once per session.
// The same ID may appear several times with different embeddings.
type KnownIdentity struct {
	ID        string
	Embedding []float64
}

// Status is the attendance direction of a recorded event.
type Status string

const (
	StatusIn  Status = "IN"
	StatusOut Status = "OUT"
)

// Toggle returns the opposite direction.
func (s Status) Toggle() Status {
	if s == StatusIn {
		return StatusOut
	}
	return StatusIn
}

// ParseStatus accepts IN/OUT in any case, ignoring surrounding spaces.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return StatusIn, nil
	case "OUT":
		return StatusOut, nil
	}
	return "", fmt.Errorf("invalid attendance status %q", s)
}

// AttendanceEvent is the append-only record handed to persistence sinks.
type AttendanceEvent struct {
	IdentityID string    `json:"identity_id"`
	Status     Status    `json:"status"`
	Time       time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
}
