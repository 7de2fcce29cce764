package engine

import (
	"image"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

// Mode is the display state.
type Mode int

const (
	LiveScan Mode = iota
	ConfirmationFreeze
)

func (m Mode) String() string {
	if m == ConfirmationFreeze {
		return "CONFIRMATION_FREEZE"
	}
	return "LIVE_SCAN"
}

// FrozenPayload is what stays on screen during a confirmation.
type FrozenPayload struct {
	Identity string
	Status   types.Status
	Frame    image.Image
	Faces    []FaceOverlay
	At       time.Time
}

// Display suspends live scanning for a fixed time after each recorded event.
type Display struct {
	duration time.Duration
	mode     Mode
	payload  *FrozenPayload
	expiry   time.Time
}

// NewDisplay starts in LiveScan.
func NewDisplay(duration time.Duration) *Display {
	return &Display{duration: duration, mode: LiveScan}
}

// Advance expires a finished freeze and returns the resulting mode.
func (d *Display) Advance(now time.Time) Mode {
	if d.mode == ConfirmationFreeze && !now.Before(d.expiry) {
		d.mode = LiveScan
		d.payload = nil
		d.expiry = time.Time{}
	}
	return d.mode
}

// Freeze enters ConfirmationFreeze. It only fires from LiveScan; a freeze in
// progress keeps its payload and expiry.
func (d *Display) Freeze(now time.Time, p FrozenPayload) bool {
	if d.mode != LiveScan {
		return false
	}
	p.At = now
	d.mode = ConfirmationFreeze
	d.payload = &p
	d.expiry = now.Add(d.duration)
	return true
}

// Mode is the current mode without advancing time.
func (d *Display) Mode() Mode {
	return d.mode
}

// Payload is the frozen confirmation, nil in LiveScan.
func (d *Display) Payload() *FrozenPayload {
	return d.payload
}

// Expiry is when the current freeze ends.
func (d *Display) Expiry() time.Time {
	return d.expiry
}
