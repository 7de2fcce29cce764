package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/turnstile/internal/engine"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// Renderer consumes one instruction per tick. It never feeds back into the engine.
type Renderer interface {
	Render(inst engine.RenderInstruction) error
	Close() error
}

// Multi renders to several renderers. A failing renderer is logged and skipped.
type Multi struct {
	log       logrus.FieldLogger
	renderers []Renderer
}

func NewMulti(log logrus.FieldLogger, rs ...Renderer) *Multi {
	return &Multi{log: log, renderers: rs}
}

func (m *Multi) Add(r Renderer) { m.renderers = append(m.renderers, r) }

func (m *Multi) Len() int { return len(m.renderers) }

func (m *Multi) Render(inst engine.RenderInstruction) error {
	var errs []error
	for _, r := range m.renderers {
		if err := r.Render(inst); err != nil {
			m.log.WithError(err).Warnf("%T failed", r)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, r := range m.renderers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// VideoWriter encodes composed frames into a video file through ffmpeg.
// Frames whose size differs from the configured size are scaled.
type VideoWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	size   image.Rectangle
	frame  *image.RGBA
	frames int
}

// NewVideoWriter starts the encoder.
func NewVideoWriter(ctx context.Context, path string, width, height, fps int) (*VideoWriter, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid output geometry %dx%d@%d", width, height, fps)
	}
	v := &VideoWriter{
		cmd:   utils.NewFFmpegEncoder(ctx, path, width, height, fps),
		size:  image.Rect(0, 0, width, height),
		frame: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	v.cmd.Stderr = &v.stderr

	stdin, err := v.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdin: %w", err)
	}
	if err := v.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	v.stdin = stdin
	return v, nil
}

func (v *VideoWriter) Render(inst engine.RenderInstruction) error {
	img := Compose(inst)
	if img == nil {
		return nil
	}
	return v.WriteFrame(img)
}

// WriteFrame encodes one frame.
func (v *VideoWriter) WriteFrame(img *image.RGBA) error {
	out := img
	if img.Bounds() != v.size {
		draw.BiLinear.Scale(v.frame, v.size, img, img.Bounds(), draw.Src, nil)
		out = v.frame
	}
	if _, err := v.stdin.Write(out.Pix); err != nil {
		return fmt.Errorf("encoder write failed: %w", err)
	}
	v.frames++
	return nil
}

// Frames is the number of frames written so far.
func (v *VideoWriter) Frames() int { return v.frames }

func (v *VideoWriter) Close() error {
	v.stdin.Close()
	if err := v.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w: %s", err, strings.TrimSpace(v.stderr.String()))
	}
	return nil
}

// SnapshotWriter saves one JPEG per confirmation, named after the identity and time.
type SnapshotWriter struct {
	dir  string
	last *engine.FrozenPayload
	// Saved lists the files written so far.
	Saved []string
}

func NewSnapshotWriter(dir string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotWriter{dir: dir}, nil
}

func (s *SnapshotWriter) Render(inst engine.RenderInstruction) error {
	if inst.Mode != engine.ConfirmationFreeze || inst.Frozen == nil || inst.Frozen == s.last {
		return nil
	}
	s.last = inst.Frozen

	img := Compose(inst)
	if img == nil {
		return nil
	}

	p := inst.Frozen
	name := fmt.Sprintf("%s_%s_%s.jpg", p.At.Format("20060102-150405"), sanitize(p.Identity), strings.ToLower(string(p.Status)))
	path := filepath.Join(s.dir, name)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return err
	}
	s.Saved = append(s.Saved, path)
	return nil
}

func (s *SnapshotWriter) Close() error { return nil }

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r < ' ' {
			return '_'
		}
		return r
	}, id)
}
