package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/utils" // Using the SafeCommand wrapper
	"github.com/andresmejia3/turnstile/internal/vision"
)

// Request opcodes understood by python/worker.py
const (
	OpDetect byte = 'D' // body: JPEG frame
	OpScore  byte = 'S' // body: 80x80 RGB sample
)

// maxResponse guards against a corrupted length header allocating gigabytes.
const maxResponse = 64 * 1024 * 1024

const maxFaces = 256

// RemoteError is a logic error reported by the Python side (status byte 1).
// The process is still healthy after one of these.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return "python worker error: " + e.Msg
}

// IsRemote reports whether err came from the Python side rather than the pipe.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewPythonWorker starts the inference process. Extra args are passed to the script.
func NewPythonWorker(ctx context.Context, id int, script string, args ...string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, "python3", append([]string{"-u", script}, args...)...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and returns the raw response body.
// Protocol: [Length][Op][Data] -> [Length][Body]
func (w *PythonWorker) Communicate(op byte, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data)+1)); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write([]byte{op}); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a Python crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// call runs Communicate and strips the status byte.
func (w *PythonWorker) call(op byte, data []byte) (*bytes.Reader, error) {
	resp, err := w.Communicate(op, data)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("empty response from worker")
	}

	r := bytes.NewReader(resp[1:])
	if resp[0] == 0 {
		return r, nil
	}

	// Protocol: [Status:1] [MsgLen] [Msg]
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return nil, fmt.Errorf("malformed error response: %w", err)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("malformed error response: %w", err)
	}
	return nil, &RemoteError{Msg: string(msg)}
}

// Detect locates faces, their embeddings and the eye landmarks of the first face.
// Protocol: [Status:0] [NumFaces] ([Box] [Dim] [Vec])* [HasMesh] [Mesh]?
func (w *PythonWorker) Detect(jpeg []byte) (types.DetectResult, error) {
	var res types.DetectResult

	r, err := w.call(OpDetect, jpeg)
	if err != nil {
		return res, err
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return res, fmt.Errorf("failed to read face count: %w", err)
	}

	if n > maxFaces {
		return res, fmt.Errorf("worker reported %d faces", n)
	}
	res.Faces = make([]types.FaceResult, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return res, fmt.Errorf("failed to read box %d: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return res, fmt.Errorf("failed to read embedding size %d: %w", i, err)
		}
		if int(dim)*4 > r.Len() {
			return res, fmt.Errorf("embedding %d claims %d values, only %d bytes left", i, dim, r.Len())
		}

		face := types.FaceResult{Loc: [4]int{int(box[0]), int(box[1]), int(box[2]), int(box[3])}}
		// dim 0 means the embedding could not be extracted for this face
		if dim > 0 {
			vec32 := make([]float32, dim)
			if err := binary.Read(r, binary.BigEndian, vec32); err != nil {
				return res, fmt.Errorf("failed to read embedding %d: %w", i, err)
			}
			face.Vec = make([]float64, dim)
			for j, v := range vec32 {
				face.Vec[j] = float64(v)
			}
		}
		res.Faces = append(res.Faces, face)
	}

	hasMesh, err := r.ReadByte()
	if err != nil {
		return res, fmt.Errorf("failed to read mesh flag: %w", err)
	}
	if hasMesh == 0 {
		return res, nil
	}

	var pts [24]float32
	if err := binary.Read(r, binary.BigEndian, &pts); err != nil {
		return res, fmt.Errorf("failed to read mesh: %w", err)
	}
	mesh := &types.FaceMesh{}
	for k := 0; k < 6; k++ {
		mesh.LeftEye[k] = types.Point{X: float64(pts[2*k]), Y: float64(pts[2*k+1])}
		mesh.RightEye[k] = types.Point{X: float64(pts[12+2*k]), Y: float64(pts[12+2*k+1])}
	}
	res.Mesh = mesh
	return res, nil
}

// ScoreSample asks the anti-spoof model about an 80x80 RGB sample.
// Protocol: [Status:0] [RealScore]
func (w *PythonWorker) ScoreSample(rgb []byte) (float64, error) {
	r, err := w.call(OpScore, rgb)
	if err != nil {
		return 0, err
	}
	var score float32
	if err := binary.Read(r, binary.BigEndian, &score); err != nil {
		return 0, fmt.Errorf("failed to read spoof score: %w", err)
	}
	if math.IsNaN(float64(score)) {
		return 0, errors.New("spoof score is NaN")
	}
	return float64(score), nil
}

// Score crops roi out of frame, resizes it and scores it. It lets the worker
// act as the engine's anti-spoof scorer.
func (w *PythonWorker) Score(frame image.Image, roi image.Rectangle) (float64, error) {
	sample := vision.SpoofSample(frame, roi)
	return w.ScoreSample(vision.RGBBytes(sample))
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
