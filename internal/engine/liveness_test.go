package engine

import (
	"errors"
	"image"
	"testing"
)

func newTestLiveness(cfg Config, s SpoofScorer) *Liveness {
	return NewLiveness(cfg, s, quietLogger())
}

func ear(v float64) *float64 { return &v }

func TestLiveness_BlinkDebounce(t *testing.T) {
	tests := []struct {
		name       string
		samples    []float64
		wantBlinks int
	}{
		{"open eyes only", []float64{0.3, 0.3, 0.3}, 0},
		{"single closed frame is noise", []float64{0.3, 0.1, 0.3}, 0},
		{"two closed frames then open", []float64{0.3, 0.1, 0.1, 0.3}, 1},
		{"long closure counts once", []float64{0.1, 0.1, 0.1, 0.1, 0.3, 0.3}, 1},
		{"two separate blinks", []float64{0.1, 0.1, 0.3, 0.1, 0.1, 0.3}, 2},
		{"still closed at end", []float64{0.1, 0.1, 0.1}, 0},
		{"threshold is exclusive", []float64{0.22, 0.22, 0.3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLiveness(DefaultConfig(), nil)
			for _, s := range tt.samples {
				l.ObserveFrame(ear(s), 0)
			}
			if l.Blinks() != tt.wantBlinks {
				t.Errorf("Blinks() = %d, want %d", l.Blinks(), tt.wantBlinks)
			}
			if l.BlinkOK() != (tt.wantBlinks > 0) {
				t.Errorf("BlinkOK() = %v", l.BlinkOK())
			}
		})
	}
}

func TestLiveness_MissingMeshSkipsBlinkUpdate(t *testing.T) {
	l := newTestLiveness(DefaultConfig(), nil)
	l.ObserveFrame(ear(0.1), 0)
	l.ObserveFrame(nil, 0)
	l.ObserveFrame(ear(0.1), 0)
	l.ObserveFrame(ear(0.3), 0)

	if l.Blinks() != 1 {
		t.Errorf("Blinks() = %d, want 1", l.Blinks())
	}
	if got := len(l.EARSamples()); got != 3 {
		t.Errorf("EAR samples = %d, want 3", got)
	}
}

func TestLiveness_WindowCapacity(t *testing.T) {
	l := newTestLiveness(DefaultConfig(), nil)
	for i := 0; i < 30; i++ {
		l.ObserveFrame(ear(float64(i)), float64(i))
	}

	samples := l.EARSamples()
	if len(samples) != 12 {
		t.Fatalf("window holds %d samples, want 12", len(samples))
	}
	if samples[0] != 18 || samples[11] != 29 {
		t.Errorf("window = %v, want 18..29", samples)
	}
	// mean of 18..29
	if l.MotionMean() != 23.5 {
		t.Errorf("MotionMean() = %v, want 23.5", l.MotionMean())
	}
}

func TestLiveness_Motion(t *testing.T) {
	l := newTestLiveness(DefaultConfig(), nil)
	if l.MotionOK() {
		t.Fatal("empty window must not report motion")
	}
	l.ObserveFrame(nil, 3.5)
	if l.MotionOK() {
		t.Error("threshold is exclusive")
	}
	l.ObserveFrame(nil, 4)
	if !l.MotionOK() {
		t.Error("expected motion after mean 3.75")
	}
}

func TestLiveness_CheckSpoof(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	box := image.Rect(10, 10, 40, 40)

	tests := []struct {
		name      string
		enabled   bool
		frame     image.Image
		box       image.Rectangle
		scorer    *fakeScorer
		wantSpoof bool
		wantScore float64
		wantCalls int
	}{
		{"real face", true, frame, box, &fakeScorer{score: 0.8}, false, 0.8, 1},
		{"printed photo", true, frame, box, &fakeScorer{score: 0.1}, true, 0.1, 1},
		{"at threshold is real", true, frame, box, &fakeScorer{score: 0.3}, false, 0.3, 1},
		{"scorer error", true, frame, box, &fakeScorer{err: errors.New("boom")}, false, 0, 1},
		{"box outside frame", true, frame, image.Rect(300, 300, 340, 340), &fakeScorer{score: 0.9}, false, 0, 0},
		{"disabled", false, frame, box, &fakeScorer{score: 0.1}, false, 1, 0},
		{"no frame", true, nil, box, &fakeScorer{score: 0.9}, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AntiSpoofEnabled = tt.enabled
			l := newTestLiveness(cfg, tt.scorer)

			spoof, score := l.CheckSpoof(tt.frame, tt.box)
			if spoof != tt.wantSpoof || score != tt.wantScore {
				t.Errorf("CheckSpoof() = (%v, %v), want (%v, %v)", spoof, score, tt.wantSpoof, tt.wantScore)
			}
			if tt.scorer.calls != tt.wantCalls {
				t.Errorf("scorer calls = %d, want %d", tt.scorer.calls, tt.wantCalls)
			}
		})
	}
}

func TestLiveness_Verdict(t *testing.T) {
	l := newTestLiveness(DefaultConfig(), nil)
	l.ObserveFrame(ear(0.1), 0)
	l.ObserveFrame(ear(0.1), 0)
	l.ObserveFrame(ear(0.3), 0)

	tests := []struct {
		name    string
		matched bool
		conf    float64
		spoof   bool
		want    bool
	}{
		{"live", true, 0.9, false, true},
		{"minimum confidence", true, 0.5, false, true},
		{"low confidence", true, 0.49, false, false},
		{"no match", false, 0.9, false, false},
		{"spoof", true, 0.9, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Verdict(tt.matched, tt.conf, tt.spoof); got != tt.want {
				t.Errorf("Verdict() = %v, want %v", got, tt.want)
			}
		})
	}

	fresh := newTestLiveness(DefaultConfig(), nil)
	if fresh.Verdict(true, 0.9, false) {
		t.Error("verdict without blink or motion must be false")
	}
}

func TestLiveness_VerifiedSetAccretes(t *testing.T) {
	l := newTestLiveness(DefaultConfig(), nil)
	if l.Verified("a") {
		t.Fatal("empty set reports verified")
	}
	l.MarkVerified("a")
	l.MarkVerified("a")
	if !l.Verified("a") || l.Verified("b") {
		t.Error("unexpected verified set contents")
	}
}
