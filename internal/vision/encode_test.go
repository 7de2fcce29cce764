package vision

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestNormalizeJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for i := range src.Pix {
		src.Pix[i] = 128
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, src); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		max   int
		wantW int
		wantH int
	}{
		{"shrinks the long edge", 100, 100, 50},
		{"keeps small images", 1000, 400, 200},
		{"zero keeps size", 0, 400, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NormalizeJPEG(pngBuf.Bytes(), tt.max)
			if err != nil {
				t.Fatalf("NormalizeJPEG failed: %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}

	if _, err := NormalizeJPEG([]byte("not an image"), 100); err == nil {
		t.Error("Expected decode error")
	}
}
