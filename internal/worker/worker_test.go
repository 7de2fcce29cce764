package worker

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// newMockWorker returns a worker whose DataPipe already holds body as one framed response.
func newMockWorker(body []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(body)))
	dataPipeMock.Write(body)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func TestDetect(t *testing.T) {
	// Protocol: [Status:0] [NumFaces:2] ([Box] [Dim] [Vec])* [HasMesh] [Mesh]
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(2))

	binary.Write(payload, binary.BigEndian, [4]int32{10, 20, 110, 140})
	vec := [128]float32{}
	vec[0] = 0.5
	binary.Write(payload, binary.BigEndian, uint32(len(vec)))
	binary.Write(payload, binary.BigEndian, vec)

	// second face without an embedding
	binary.Write(payload, binary.BigEndian, [4]int32{200, 20, 260, 90})
	binary.Write(payload, binary.BigEndian, uint32(0))

	payload.WriteByte(1)
	var mesh [24]float32
	for i := range mesh {
		mesh[i] = float32(i)
	}
	binary.Write(payload, binary.BigEndian, mesh)

	w, stdinMock := newMockWorker(payload.Bytes())

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	res, err := w.Detect(inputFrame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Verify Go sent [len][op][data] TO Python
	sent := stdinMock.Bytes()
	if len(sent) != 4+1+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 5+len(inputFrame), len(sent))
	}
	if binary.BigEndian.Uint32(sent[:4]) != uint32(1+len(inputFrame)) {
		t.Errorf("Wrong length header %X", sent[:4])
	}
	if sent[4] != OpDetect {
		t.Errorf("Expected op %q, got %q", OpDetect, sent[4])
	}

	if len(res.Faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(res.Faces))
	}
	if res.Faces[0].Loc != [4]int{10, 20, 110, 140} {
		t.Errorf("Unexpected box %v", res.Faces[0].Loc)
	}
	if len(res.Faces[0].Vec) != 128 || math.Abs(res.Faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Unexpected embedding (len %d)", len(res.Faces[0].Vec))
	}
	if res.Faces[1].Vec != nil {
		t.Errorf("Expected no embedding for second face, got %d values", len(res.Faces[1].Vec))
	}

	if res.Mesh == nil {
		t.Fatal("Expected a face mesh")
	}
	if res.Mesh.LeftEye[1].X != 2 || res.Mesh.LeftEye[1].Y != 3 {
		t.Errorf("Unexpected left eye point %+v", res.Mesh.LeftEye[1])
	}
	if res.Mesh.RightEye[0].X != 12 || res.Mesh.RightEye[5].Y != 23 {
		t.Errorf("Unexpected right eye %+v", res.Mesh.RightEye)
	}
}

func TestDetect_NoFaces(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 0, 0} // status, count=0, no mesh
	w, _ := newMockWorker(payload)

	res, err := w.Detect([]byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(res.Faces) != 0 || res.Mesh != nil {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestDetect_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w, _ := newMockWorker(payload.Bytes())

	_, err := w.Detect([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	if !IsRemote(err) {
		t.Error("Expected a remote error")
	}
}

func TestDetect_Truncated(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(1))
	binary.Write(payload, binary.BigEndian, [4]int32{0, 0, 10, 10})
	binary.Write(payload, binary.BigEndian, uint32(512)) // claims more than is sent

	w, _ := newMockWorker(payload.Bytes())
	_, err := w.Detect([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error for truncated embedding")
	}
	if IsRemote(err) {
		t.Error("Truncation is a protocol error, not a remote one")
	}
}

func TestDetect_PipeClosed(t *testing.T) {
	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.Detect([]byte("frame")); err == nil {
		t.Fatal("Expected error when Python sends nothing")
	}
}

func TestScore(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, float32(0.75))

	w, stdinMock := newMockWorker(payload.Bytes())

	frame := image.NewRGBA(image.Rect(0, 0, 200, 200))
	score, err := w.Score(frame, image.Rect(40, 40, 120, 140))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 0.75 {
		t.Errorf("Expected 0.75, got %v", score)
	}

	sent := stdinMock.Bytes()
	want := 80 * 80 * 3
	if len(sent) != 4+1+want {
		t.Fatalf("Expected an 80x80 RGB sample, sent %d bytes", len(sent)-5)
	}
	if sent[4] != OpScore {
		t.Errorf("Expected op %q, got %q", OpScore, sent[4])
	}
}
