package engine

import (
	"image"

	"github.com/andresmejia3/turnstile/internal/vision"
	"github.com/sirupsen/logrus"
)

// SpoofScorer estimates how likely the region of frame is a real, present face.
// The returned score is in [0,1]; higher means more likely real.
type SpoofScorer interface {
	Score(frame image.Image, roi image.Rectangle) (float64, error)
}

// Liveness fuses blink, motion and anti-spoof signals.
// Its windows and blink counter are shared by every face of the session.
type Liveness struct {
	cfg    Config
	scorer SpoofScorer
	log    logrus.FieldLogger

	ear      *window
	motion   *window
	blinks   int
	debounce int
	verified map[string]struct{}
}

// NewLiveness builds an empty liveness window.
func NewLiveness(cfg Config, scorer SpoofScorer, log logrus.FieldLogger) *Liveness {
	return &Liveness{
		cfg:      cfg,
		scorer:   scorer,
		log:      log,
		ear:      newWindow(cfg.LivenessWindowSize),
		motion:   newWindow(cfg.LivenessWindowSize),
		verified: make(map[string]struct{}),
	}
}

// ObserveFrame records one frame's motion magnitude and, when a face mesh was
// available, its eye aspect ratio. A blink counts once the eyes reopen after
// being closed for at least BlinkConsecutiveFrames frames.
func (l *Liveness) ObserveFrame(ear *float64, motion float64) {
	l.motion.Push(motion)
	if ear == nil {
		return
	}

	l.ear.Push(*ear)
	if *ear < l.cfg.BlinkEARThreshold {
		l.debounce++
		return
	}
	if l.debounce >= l.cfg.BlinkConsecutiveFrames {
		l.blinks++
	}
	l.debounce = 0
}

// CheckSpoof pads box, clips it to frame and asks the scorer about it.
// A disabled check passes with a perfect score. An empty region or a scorer
// failure is not treated as a spoof but reports a zero score.
func (l *Liveness) CheckSpoof(frame image.Image, box image.Rectangle) (isSpoof bool, realScore float64) {
	if !l.cfg.AntiSpoofEnabled {
		return false, 1.0
	}
	if frame == nil || l.scorer == nil {
		return false, 0.0
	}

	roi := vision.PadBox(box, l.cfg.SpoofPadding, frame.Bounds())
	if roi.Empty() {
		return false, 0.0
	}

	score, err := l.scorer.Score(frame, roi)
	if err != nil {
		l.log.WithError(err).WithField("roi", roi).Warn("anti-spoof scoring failed")
		return false, 0.0
	}
	return score < l.cfg.AntiSpoofThreshold, score
}

// BlinkOK reports whether any blink was seen since the session started.
func (l *Liveness) BlinkOK() bool {
	return l.blinks > 0
}

// MotionOK reports whether the recent frames moved enough.
func (l *Liveness) MotionOK() bool {
	return l.motion.Mean() > l.cfg.MotionThreshold
}

// Verdict is the fused live decision for one detection.
func (l *Liveness) Verdict(matched bool, confidence float64, isSpoof bool) bool {
	return matched &&
		confidence >= l.cfg.MinConfidence &&
		(l.BlinkOK() || l.MotionOK()) &&
		!isSpoof
}

// MarkVerified remembers that id produced a live verdict.
func (l *Liveness) MarkVerified(id string) {
	l.verified[id] = struct{}{}
}

// Verified reports whether id was ever live in this session.
func (l *Liveness) Verified(id string) bool {
	_, ok := l.verified[id]
	return ok
}

// Blinks is the cumulative blink count.
func (l *Liveness) Blinks() int {
	return l.blinks
}

// MotionMean is the current mean of the motion window.
func (l *Liveness) MotionMean() float64 {
	return l.motion.Mean()
}

// EARSamples returns the held eye aspect ratios, oldest first.
func (l *Liveness) EARSamples() []float64 {
	return l.ear.Values()
}
