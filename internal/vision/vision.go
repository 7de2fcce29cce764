// Package vision holds the pixel-level measurements the liveness gate is fed with:
// eye aspect ratio from face-mesh landmarks, frame-to-frame motion, and the
// fixed-size crop handed to the anti-spoof scorer.
package vision

import (
	"image"
	"math"

	"github.com/andresmejia3/turnstile/internal/types"
	"golang.org/x/image/draw"
)

// SpoofSampleSize is the edge length of the square patch the anti-spoof network expects.
const SpoofSampleSize = 80

func dist(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes (|p1-p4| + |p2-p5|) / (2*|p0-p3|) for one eye.
// An open eye sits around 0.3, a closed one drops below 0.2.
func EyeAspectRatio(eye [6]types.Point) float64 {
	a := dist(eye[1], eye[4])
	b := dist(eye[2], eye[5])
	c := dist(eye[0], eye[3])
	return (a + b) / (2.0 * (c + 1e-8))
}

// MeshEAR averages the aspect ratio of both eyes.
func MeshEAR(m *types.FaceMesh) float64 {
	return (EyeAspectRatio(m.LeftEye) + EyeAspectRatio(m.RightEye)) / 2
}

// Gray converts any image to 8-bit luma using the BT.601 weights.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// MotionEstimator tracks the previous grayscale frame and reports the mean
// absolute pixel difference against it.
type MotionEstimator struct {
	prev *image.Gray
}

// Observe returns the motion magnitude of img relative to the last observed frame.
// The first frame, and any frame whose size differs from the previous one, yields 0.
func (m *MotionEstimator) Observe(img image.Image) float64 {
	cur := Gray(img)
	prev := m.prev
	m.prev = cur
	if prev == nil || prev.Bounds().Size() != cur.Bounds().Size() {
		return 0
	}

	w, h := cur.Bounds().Dx(), cur.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum uint64
	for y := 0; y < h; y++ {
		pRow := prev.Pix[y*prev.Stride : y*prev.Stride+w]
		cRow := cur.Pix[y*cur.Stride : y*cur.Stride+w]
		for x := range cRow {
			d := int(cRow[x]) - int(pRow[x])
			if d < 0 {
				d = -d
			}
			sum += uint64(d)
		}
	}
	return float64(sum) / float64(w*h)
}

// Reset forgets the previous frame.
func (m *MotionEstimator) Reset() {
	m.prev = nil
}

// PadBox grows box by pad pixels on every side and clips it to bounds.
func PadBox(box image.Rectangle, pad int, bounds image.Rectangle) image.Rectangle {
	return box.Inset(-pad).Intersect(bounds)
}

// SpoofSample crops roi out of img and resamples it to an 80x80 RGBA patch.
func SpoofSample(img image.Image, roi image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, SpoofSampleSize, SpoofSampleSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, roi, draw.Src, nil)
	return dst
}

// RGBBytes flattens an RGBA patch into packed RGB triplets, row-major.
func RGBBytes(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
