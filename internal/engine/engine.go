// Package engine decides, frame by frame, whether a recognised face is a live
// person, whether that sighting becomes an IN/OUT attendance event, and when the
// confirmation screen suspends scanning.
//
// The engine is single-threaded: all state lives in one *Engine and is only
// touched from Tick/Process. Collaborators (frame source, anti-spoof scorer,
// sink) are injected and must do their own synchronisation.
package engine

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/vision"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Detection is one face found in a frame.
type Detection struct {
	Box       image.Rectangle
	Embedding []float64 // empty when embedding extraction failed
}

// Frame is one captured frame with its detections and optional face mesh.
type Frame struct {
	Image      image.Image
	Detections []Detection
	Mesh       *types.FaceMesh
}

// FrameSource yields frames; io.EOF ends the session.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
}

// Sink persists recorded events. Implementations must keep insertion order.
type Sink interface {
	Append(ctx context.Context, ev types.AttendanceEvent) error
}

type nopSink struct{}

func (nopSink) Append(context.Context, types.AttendanceEvent) error { return nil }

// Engine wires matcher, liveness, registry and display together.
type Engine struct {
	cfg     Config
	log     logrus.FieldLogger
	source  FrameSource
	scorer  SpoofScorer
	sink    Sink
	session string

	matcher  *Matcher
	liveness *Liveness
	registry *Registry
	display  *Display
	motion   vision.MotionEstimator

	frames  int
	started time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger; defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithScorer sets the anti-spoof scorer.
func WithScorer(s SpoofScorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithSink sets where recorded events go.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithSessionID overrides the generated session id stamped on events.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.session = id }
}

// New validates the configuration and the reference set and returns a ready engine.
func New(cfg Config, known []types.KnownIdentity, source FrameSource, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if len(known) == 0 {
		return nil, ErrNoKnownIdentities
	}
	dim := len(known[0].Embedding)
	for _, k := range known {
		if len(k.Embedding) == 0 || len(k.Embedding) != dim {
			return nil, fmt.Errorf("%w: %q has %d values, expected %d", ErrEmbeddingDimension, k.ID, len(k.Embedding), dim)
		}
	}
	if source == nil {
		return nil, ErrNoFrameSource
	}

	e := &Engine{
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		source:  source,
		sink:    nopSink{},
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.AntiSpoofEnabled && e.scorer == nil {
		return nil, ErrNoSpoofScorer
	}

	e.log = e.log.WithField("session", e.session)
	e.matcher = NewMatcher(known, cfg.MatchTolerance)
	e.liveness = NewLiveness(cfg, e.scorer, e.log)
	e.registry = NewRegistry(cfg.Cooldown)
	e.display = NewDisplay(cfg.FreezeDuration)
	return e, nil
}

// SessionID identifies this engine instance on persisted events.
func (e *Engine) SessionID() string { return e.session }

// Registry exposes attendance state for reporting.
func (e *Engine) Registry() *Registry { return e.registry }

// Liveness exposes the liveness window for reporting.
func (e *Engine) Liveness() *Liveness { return e.liveness }

// Display exposes the display state machine.
func (e *Engine) Display() *Display { return e.display }

// Tick advances the engine by one frame. While a confirmation is frozen and the
// freeze policy blocks detection, no frame is pulled and nothing is evaluated.
func (e *Engine) Tick(ctx context.Context, now time.Time) (RenderInstruction, error) {
	if e.display.Advance(now) == ConfirmationFreeze && e.cfg.FreezeBlocksDetection {
		return e.frozenInstruction(now), nil
	}

	frame, err := e.source.Next(ctx)
	if err != nil {
		return RenderInstruction{}, err
	}
	return e.Process(ctx, now, frame), nil
}

// Process evaluates one frame. It is the synchronous core of Tick and follows the
// same freeze policy: a blocking freeze discards the frame unevaluated.
func (e *Engine) Process(ctx context.Context, now time.Time, f *Frame) RenderInstruction {
	if e.display.Advance(now) == ConfirmationFreeze && e.cfg.FreezeBlocksDetection {
		return e.frozenInstruction(now)
	}
	if e.frames == 0 {
		e.started = now
	}
	e.frames++

	motion := 0.0
	if f.Image != nil {
		motion = e.motion.Observe(f.Image)
	}
	var ear *float64
	if f.Mesh != nil {
		v := vision.MeshEAR(f.Mesh)
		ear = &v
	}
	e.liveness.ObserveFrame(ear, motion)

	inst := RenderInstruction{
		Mode:  LiveScan,
		Frame: f.Image,
		HUD:   e.hud(now),
	}

	var recorded []FrozenPayload
	for _, det := range f.Detections {
		if len(det.Embedding) == 0 || len(det.Embedding) != e.matcher.Dim() {
			e.log.WithField("box", det.Box).Debug("skipping detection without usable embedding")
			continue
		}

		id, matched, conf := e.matcher.Match(det.Embedding)
		spoof, score := e.liveness.CheckSpoof(f.Image, det.Box)
		live := e.liveness.Verdict(matched, conf, spoof)
		if live {
			e.liveness.MarkVerified(id)
		}
		inst.Faces = append(inst.Faces, e.overlay(det, id, matched, conf, spoof, score, live))

		logger := e.log.WithFields(logrus.Fields{"identity": id, "confidence": conf})
		switch {
		case live:
			out := e.registry.TryRecord(id, now)
			if !out.Recorded {
				logger.WithField("remaining", e.registry.Remaining(id, now).Round(time.Second)).
					Debugf("cooldown active, current status %s", out.Status)
				continue
			}
			e.emit(ctx, id, out.Status, now)
			recorded = append(recorded, FrozenPayload{Identity: id, Status: out.Status})
		case spoof:
			logger.WithFields(logrus.Fields{
				"score":     score,
				"threshold": e.cfg.AntiSpoofThreshold,
			}).Warn("spoof detected")
		case matched:
			logger.WithFields(logrus.Fields{
				"blinks": e.liveness.Blinks(),
				"motion": e.liveness.MotionOK(),
			}).Debug("waiting for liveness")
		}
	}

	if len(recorded) > 0 {
		// the last face recorded in the frame owns the confirmation
		p := recorded[len(recorded)-1]
		p.Frame = f.Image
		p.Faces = inst.Faces
		e.display.Freeze(now, p)
	}
	if e.display.Mode() == ConfirmationFreeze {
		frozen := e.frozenInstruction(now)
		frozen.HUD = inst.HUD
		return frozen
	}
	return inst
}

func (e *Engine) emit(ctx context.Context, id string, status types.Status, now time.Time) {
	ev := types.AttendanceEvent{IdentityID: id, Status: status, Time: now, SessionID: e.session}
	logger := e.log.WithFields(logrus.Fields{"identity": id, "status": status})
	if err := e.sink.Append(ctx, ev); err != nil {
		// the registry already moved on; the row may be missing downstream
		logger.WithError(err).Error("failed to persist attendance event")
	}
	logger.Infof("✓ %s marked %s at %s", id, status, now.Format("2006-01-02 15:04:05"))
}

func (e *Engine) frozenInstruction(now time.Time) RenderInstruction {
	remaining := e.display.Expiry().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return RenderInstruction{
		Mode:            ConfirmationFreeze,
		Frozen:          e.display.Payload(),
		FreezeRemaining: remaining,
	}
}

func (e *Engine) hud(now time.Time) HUD {
	h := HUD{Blinks: e.liveness.Blinks(), Motion: e.liveness.MotionMean()}
	if elapsed := now.Sub(e.started).Seconds(); elapsed > 0 {
		h.FPS = float64(e.frames) / elapsed
	}
	return h
}

func (e *Engine) overlay(det Detection, id string, matched bool, conf float64, spoof bool, score float64, live bool) FaceOverlay {
	o := FaceOverlay{
		Box:            det.Box,
		Identity:       id,
		Matched:        matched,
		Confidence:     conf,
		Spoof:          spoof,
		Live:           live,
		SpoofScore:     score,
		ShowSpoofScore: e.cfg.AntiSpoofEnabled,
	}

	switch {
	case spoof:
		o.Color = ColorRed
		o.Label = fmt.Sprintf("SPOOF! Score:%.2f", score)
	case matched && e.liveness.Verified(id):
		o.Color = ColorGreen
		o.Label = id
	default:
		o.Color = ColorRed
		o.Label = fmt.Sprintf("Unknown %.2f", conf)
	}

	if !matched {
		return o
	}
	if st, ok := e.registry.State(id); ok {
		o.Hint = fmt.Sprintf("Status: %s -> Next: %s", st.LastStatus, st.LastStatus.Toggle())
		if !spoof {
			o.StatusText = ConfirmationText(id, st.LastStatus)
			o.StatusColor = StatusColor(st.LastStatus)
		}
	} else {
		o.Hint = "Status: New -> Will mark IN"
		if !spoof {
			o.StatusText = ConfirmationText(id, types.StatusIn)
			o.StatusColor = ColorGreen
		}
	}
	return o
}
