// Package capture turns an ffmpeg MJPEG stream into engine frames, running
// face detection on each frame through the Python worker.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/turnstile/internal/engine"
	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/andresmejia3/turnstile/internal/worker"
	"github.com/sirupsen/logrus"
)

const megabyte = 1024 * 1024

// Detector finds faces in an encoded frame.
type Detector interface {
	Detect(jpeg []byte) (types.DetectResult, error)
}

// Options controls buffering.
type Options struct {
	// LatestOnly keeps a single pending frame and drops older ones. Use it for
	// live cameras so a slow tick or a confirmation freeze never builds a backlog.
	LatestOnly bool
}

// Source implements engine.FrameSource.
type Source struct {
	det  Detector
	log  logrus.FieldLogger
	opts Options

	frames   chan []byte
	done     chan struct{}
	finished chan struct{}
	once     sync.Once

	cmd    *exec.Cmd
	closer io.Closer
	stderr bytes.Buffer
	err    error // set by pump before finished is closed

	read    atomic.Int64
	dropped atomic.Int64
}

// Start launches ffmpeg for args and begins reading frames.
func Start(ctx context.Context, args utils.CaptureArgs, det Detector, log logrus.FieldLogger, opts Options) (*Source, error) {
	s := newSource(det, log, opts)

	s.cmd = utils.NewFFmpegCaptureCmd(ctx, args)
	s.cmd.Stderr = &s.stderr
	out, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	go s.pump(out)
	return s, nil
}

// NewSource reads an already-open MJPEG stream. Close closes r when it is an io.Closer.
func NewSource(r io.Reader, det Detector, log logrus.FieldLogger, opts Options) *Source {
	s := newSource(det, log, opts)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.pump(r)
	return s
}

func newSource(det Detector, log logrus.FieldLogger, opts Options) *Source {
	return &Source{
		det:      det,
		log:      log,
		opts:     opts,
		frames:   make(chan []byte, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *Source) pump(r io.Reader) {
	defer close(s.finished)
	defer close(s.frames)

	err := s.scan(r)
	if s.cmd != nil {
		if werr := s.cmd.Wait(); werr != nil && err == nil && !s.closing() {
			err = fmt.Errorf("ffmpeg exited: %w: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
	}
	s.err = err
}

func (s *Source) scan(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		s.read.Add(1)
		buf := append([]byte(nil), scanner.Bytes()...)

		if s.opts.LatestOnly {
			// only pump sends, so after draining the send below cannot block
			select {
			case <-s.frames:
				s.dropped.Add(1)
			default:
			}
		}
		select {
		case s.frames <- buf:
		case <-s.done:
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil
}

func (s *Source) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Next blocks for the next decodable frame and runs detection on it.
// Worker logic errors yield the frame without detections; pipe failures are returned.
func (s *Source) Next(ctx context.Context) (*engine.Frame, error) {
	for {
		var buf []byte
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case buf, ok = <-s.frames:
		}
		if !ok {
			<-s.finished
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}

		img, err := jpeg.Decode(bytes.NewReader(buf))
		if err != nil {
			s.log.WithError(err).Warn("skipping undecodable frame")
			continue
		}

		frame := &engine.Frame{Image: img}
		res, err := s.det.Detect(buf)
		if err != nil {
			if worker.IsRemote(err) {
				s.log.WithError(err).Warn("worker logic error, frame has no detections")
				return frame, nil
			}
			return nil, fmt.Errorf("face detection failed: %w", err)
		}

		for _, f := range res.Faces {
			frame.Detections = append(frame.Detections, engine.Detection{
				Box:       image.Rect(f.Loc[0], f.Loc[1], f.Loc[2], f.Loc[3]),
				Embedding: f.Vec,
			})
		}
		frame.Mesh = res.Mesh
		return frame, nil
	}
}

// Stats reports frames read from the stream and frames dropped for being stale.
func (s *Source) Stats() (read, dropped int64) {
	return s.read.Load(), s.dropped.Load()
}

// Close stops ffmpeg and waits for the reader to exit.
func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		if s.closer != nil {
			s.closer.Close()
		}
	})
	// unblock a pump waiting on a full mailbox
	for range s.frames {
	}
	<-s.finished
	return nil
}
