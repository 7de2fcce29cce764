package engine

import (
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

// Color is a semantic overlay color; renderers map it to pixels.
type Color int

const (
	ColorRed Color = iota
	ColorGreen
	ColorOrange
	ColorYellow
	ColorWhite
)

// FaceOverlay describes how one detection should be drawn.
type FaceOverlay struct {
	Box   image.Rectangle
	Color Color
	Label string

	// StatusText is set for matched, non-spoofed faces.
	StatusText  string
	StatusColor Color
	Hint        string

	ShowSpoofScore bool
	SpoofScore     float64

	Identity   string
	Matched    bool
	Confidence float64
	Spoof      bool
	Live       bool
}

// HUD is the per-frame status line.
type HUD struct {
	FPS    float64
	Blinks int
	Motion float64
}

func (h HUD) String() string {
	return fmt.Sprintf("FPS:%.1f | Blinks:%d | Motion:%.1f", h.FPS, h.Blinks, h.Motion)
}

// RenderInstruction is everything a render sink needs for one tick.
// In ConfirmationFreeze only Frozen is meaningful.
type RenderInstruction struct {
	Mode            Mode
	Frame           image.Image
	Faces           []FaceOverlay
	HUD             HUD
	Frozen          *FrozenPayload
	FreezeRemaining time.Duration
}

// ConfirmationText is the message shown for a recorded event.
func ConfirmationText(id string, status types.Status) string {
	return fmt.Sprintf("%s you're marked as %s", id, status)
}

// StatusColor is green for IN and orange for OUT.
func StatusColor(s types.Status) Color {
	if s == types.StatusOut {
		return ColorOrange
	}
	return ColorGreen
}
