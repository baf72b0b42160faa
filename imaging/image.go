package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	iface "CascadeDetServer/interface"
)

// ImageFrame wraps an in-memory image.Image.
type ImageFrame struct {
	img image.Image
}

// NewImageFrame wraps img without copying it.
func NewImageFrame(img image.Image) *ImageFrame {
	return &ImageFrame{img: img}
}

// Image returns the wrapped image.
func (f *ImageFrame) Image() image.Image { return f.img }

func (f *ImageFrame) Bounds() image.Rectangle { return f.img.Bounds() }

// Crop copies r into a new frame whose origin is (0,0).
func (f *ImageFrame) Crop(r image.Rectangle) (iface.Frame, error) {
	if r.Empty() || !r.In(f.img.Bounds()) {
		return nil, fmt.Errorf("crop %v outside frame %v", r, f.img.Bounds())
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), f.img, r.Min, draw.Src)
	return &ImageFrame{img: dst}, nil
}

// Encode returns the frame as PNG.
func (f *ImageFrame) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *ImageFrame) Close() error { return nil }
