// Package render turns engine render instructions into annotated frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/turnstile/internal/engine"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var palette = map[engine.Color]color.RGBA{
	engine.ColorRed:    {R: 230, G: 30, B: 30, A: 255},
	engine.ColorGreen:  {R: 20, G: 200, B: 60, A: 255},
	engine.ColorOrange: {R: 255, G: 140, B: 0, A: 255},
	engine.ColorYellow: {R: 240, G: 220, B: 20, A: 255},
	engine.ColorWhite:  {R: 255, G: 255, B: 255, A: 255},
}

var (
	black = color.RGBA{A: 255}
	white = palette[engine.ColorWhite]
	face  = basicfont.Face7x13
)

const (
	lineHeight = 13
	boxStroke  = 2
)

// RGBAOf maps an overlay color to pixels.
func RGBAOf(c engine.Color) color.RGBA {
	if v, ok := palette[c]; ok {
		return v
	}
	return white
}

// Compose draws inst onto a copy of its frame. It returns nil when there is
// nothing to draw.
func Compose(inst engine.RenderInstruction) *image.RGBA {
	if inst.Mode == engine.ConfirmationFreeze {
		return composeFrozen(inst)
	}
	if inst.Frame == nil {
		return nil
	}

	img := cloneRGBA(inst.Frame)
	for _, f := range inst.Faces {
		drawFace(img, f)
	}
	drawText(img, image.Pt(10, 20), inst.HUD.String(), palette[engine.ColorYellow])
	return img
}

func composeFrozen(inst engine.RenderInstruction) *image.RGBA {
	p := inst.Frozen
	if p == nil || p.Frame == nil {
		return nil
	}

	img := cloneRGBA(p.Frame)
	for _, f := range p.Faces {
		drawFace(img, f)
	}
	dim(img, 0.5)

	msg := engine.ConfirmationText(p.Identity, p.Status)
	sub := fmt.Sprintf("Resuming in %ds", int(math.Ceil(inst.FreezeRemaining.Seconds())))

	b := img.Bounds()
	boxW := max(textWidth(msg), textWidth(sub)) + 40
	boxH := 2*lineHeight + 40
	box := image.Rect(0, 0, boxW, boxH).Add(image.Pt(
		b.Min.X+(b.Dx()-boxW)/2,
		b.Min.Y+(b.Dy()-boxH)/2,
	))

	fill(img, box, black)
	stroke(img, box, white, boxStroke)
	drawText(img, image.Pt(box.Min.X+20, box.Min.Y+20+lineHeight), msg, RGBAOf(engine.StatusColor(p.Status)))
	drawText(img, image.Pt(box.Min.X+20, box.Min.Y+30+2*lineHeight), sub, white)
	stroke(img, b, white, boxStroke)
	return img
}

func drawFace(img *image.RGBA, f engine.FaceOverlay) {
	c := RGBAOf(f.Color)
	stroke(img, f.Box, c, boxStroke)

	// label above the box, detail lines below it
	drawText(img, image.Pt(f.Box.Min.X, f.Box.Min.Y-6), f.Label, c)

	y := f.Box.Max.Y + lineHeight + 2
	if f.StatusText != "" {
		drawText(img, image.Pt(f.Box.Min.X, y), f.StatusText, RGBAOf(f.StatusColor))
		y += lineHeight + 2
	}
	if f.Hint != "" {
		drawText(img, image.Pt(f.Box.Min.X, y), f.Hint, white)
		y += lineHeight + 2
	}
	if f.ShowSpoofScore {
		drawText(img, image.Pt(f.Box.Min.X, y), fmt.Sprintf("AS:%.2f", f.SpoofScore), c)
	}
}

func cloneRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// fill paints rect (clipped to img) with c.
func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}

// stroke draws the outline of rect, width pixels thick, inside rect.
func stroke(img *image.RGBA, rect image.Rectangle, c color.RGBA, width int) {
	if rect.Empty() {
		return
	}
	fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), c)
	fill(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), c)
	fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), c)
	fill(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), c)
}

// dim scales every color channel by factor.
func dim(img *image.RGBA, factor float64) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(float64(img.Pix[i]) * factor)
		img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * factor)
		img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * factor)
	}
}

// drawText writes s with its baseline at pt.
func drawText(img *image.RGBA, pt image.Point, s string, c color.RGBA) {
	if s == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(pt.X, pt.Y),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}
