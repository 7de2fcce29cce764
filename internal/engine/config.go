package engine

import (
	"fmt"
	"time"
)

// Config holds every tunable of the decision engine.
type Config struct {
	MatchTolerance         float64       `yaml:"match_tolerance"`
	MinConfidence          float64       `yaml:"min_confidence"`
	BlinkEARThreshold      float64       `yaml:"blink_ear_threshold"`
	BlinkConsecutiveFrames int           `yaml:"blink_consecutive_frames"`
	LivenessWindowSize     int           `yaml:"liveness_window_size"`
	MotionThreshold        float64       `yaml:"motion_threshold"`
	Cooldown               time.Duration `yaml:"cooldown"`
	AntiSpoofThreshold     float64       `yaml:"anti_spoof_threshold"`
	AntiSpoofEnabled       bool          `yaml:"anti_spoof_enabled"`
	SpoofPadding           int           `yaml:"spoof_padding"`
	FreezeDuration         time.Duration `yaml:"freeze_duration"`

	// FreezeBlocksDetection stops all frame processing while a confirmation is shown.
	// When false, detections keep flowing through matching and the registry and only
	// the display stays frozen.
	FreezeBlocksDetection bool `yaml:"freeze_blocks_detection"`
}

// DefaultConfig returns the values the engine was tuned with.
func DefaultConfig() Config {
	return Config{
		MatchTolerance:         0.45,
		MinConfidence:          0.5,
		BlinkEARThreshold:      0.22,
		BlinkConsecutiveFrames: 2,
		LivenessWindowSize:     12,
		MotionThreshold:        3.5,
		Cooldown:               10 * time.Second,
		AntiSpoofThreshold:     0.3,
		AntiSpoofEnabled:       true,
		SpoofPadding:           20,
		FreezeDuration:         7 * time.Second,
		FreezeBlocksDetection:  true,
	}
}

// Validate rejects values that would make the engine misbehave silently.
func (c Config) Validate() error {
	if c.MatchTolerance <= 0 {
		return fmt.Errorf("match_tolerance must be > 0, got %f", c.MatchTolerance)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0, got %f", c.MinConfidence)
	}
	if c.BlinkEARThreshold <= 0 {
		return fmt.Errorf("blink_ear_threshold must be > 0, got %f", c.BlinkEARThreshold)
	}
	if c.BlinkConsecutiveFrames < 1 {
		return fmt.Errorf("blink_consecutive_frames must be >= 1, got %d", c.BlinkConsecutiveFrames)
	}
	if c.LivenessWindowSize < 1 {
		return fmt.Errorf("liveness_window_size must be >= 1, got %d", c.LivenessWindowSize)
	}
	if c.MotionThreshold < 0 {
		return fmt.Errorf("motion_threshold must be >= 0, got %f", c.MotionThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %s", c.Cooldown)
	}
	if c.AntiSpoofThreshold < 0 || c.AntiSpoofThreshold > 1.0 {
		return fmt.Errorf("anti_spoof_threshold must be between 0.0 and 1.0, got %f", c.AntiSpoofThreshold)
	}
	if c.SpoofPadding < 0 {
		return fmt.Errorf("spoof_padding must be >= 0, got %d", c.SpoofPadding)
	}
	if c.FreezeDuration < 0 {
		return fmt.Errorf("freeze_duration must be >= 0, got %s", c.FreezeDuration)
	}
	return nil
}
