// Package geometry derives crop rectangles from detector bounding boxes.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrGeometry marks a crop rectangle that cannot be extracted from a frame.
var ErrGeometry = errors.New("geometry")

// BoundingBox is a region in frame pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

func (b BoundingBox) Width() float64  { return b.XMax - b.XMin }
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Valid reports whether the box has non-negative extent on both axes.
func (b BoundingBox) Valid() bool {
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// Rect returns the box as an origin/size rectangle.
func (b BoundingBox) Rect() Rect {
	return Rect{X: b.XMin, Y: b.YMin, W: b.Width(), H: b.Height()}
}

// Rect is an axis aligned rectangle given by its top-left corner and size.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) CenterX() float64 { return r.X + r.W/2 }
func (r Rect) CenterY() float64 { return r.Y + r.H/2 }

// Pixels rounds every edge to the nearest integer pixel.
func (r Rect) Pixels() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)),
		int(math.Round(r.Y+r.H)),
	)
}

// Clamp intersects r with bounds and rounds the edges to the nearest pixel.
func Clamp(r Rect, bounds image.Rectangle) (image.Rectangle, error) {
	for _, v := range [4]float64{r.X, r.Y, r.W, r.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, fmt.Errorf("%w: non-finite rectangle %+v", ErrGeometry, r)
		}
	}
	if r.W <= 0 || r.H <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: degenerate rectangle %.2fx%.2f", ErrGeometry, r.W, r.H)
	}
	x0 := math.Max(r.X, float64(bounds.Min.X))
	y0 := math.Max(r.Y, float64(bounds.Min.Y))
	x1 := math.Min(r.X+r.W, float64(bounds.Max.X))
	y1 := math.Min(r.Y+r.H, float64(bounds.Max.Y))
	if x0 >= x1 || y0 >= y1 {
		return image.Rectangle{}, fmt.Errorf("%w: rectangle %+v outside frame %v", ErrGeometry, r, bounds)
	}
	px := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
	if px.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: rectangle %+v is under a pixel", ErrGeometry, r)
	}
	return px, nil
}

// Transform computes the crop rectangle for box. Weights are fractions of the
// box size: X and Y offset the origin, W and H scale the extent. Conditions are
// applied in order. Wildcard weights return the box untouched.
func Transform(box BoundingBox, w Weights, conditions []Condition) (Rect, error) {
	if !box.Valid() {
		return Rect{}, fmt.Errorf("%w: box %+v has negative extent", ErrGeometry, box)
	}
	if w.All {
		return box.Rect(), nil
	}
	bw, bh := box.Width(), box.Height()
	r := Rect{
		X: box.XMin + w.X*bw,
		Y: box.YMin + w.Y*bh,
		W: w.W * bw,
		H: w.H * bh,
	}
	src := box.Rect()
	var centeredX, centeredY bool
	for _, c := range conditions {
		switch c {
		case CenterX:
			r.X = src.CenterX() - r.W/2
			centeredX = true
		case CenterY:
			r.Y = src.CenterY() - r.H/2
			centeredY = true
		case SquareW:
			cy := r.CenterY()
			r.H = r.W
			if centeredY {
				r.Y = cy - r.H/2
			}
		case SquareH:
			cx := r.CenterX()
			r.W = r.H
			if centeredX {
				r.X = cx - r.W/2
			}
		default:
			return Rect{}, fmt.Errorf("%w: unknown condition %q", ErrGeometry, string(c))
		}
	}
	return r, nil
}
