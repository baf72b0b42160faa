// Package cv provides OpenCV backed frames.
package cv

import (
	"errors"
	"fmt"
	"image"

	iface "CascadeDetServer/interface"

	"gocv.io/x/gocv"
)

// MatFrame owns a gocv.Mat.
type MatFrame struct {
	mat gocv.Mat
}

func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{mat: mat}
}

func (f *MatFrame) Mat() gocv.Mat { return f.mat }

func (f *MatFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

func (f *MatFrame) Crop(r image.Rectangle) (iface.Frame, error) {
	if r.Empty() || !r.In(f.Bounds()) {
		return nil, fmt.Errorf("crop %v outside frame %v", r, f.Bounds())
	}
	region := f.mat.Region(r)
	defer region.Close()
	return &MatFrame{mat: region.Clone()}, nil
}

func (f *MatFrame) Encode() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (f *MatFrame) Close() error {
	return f.mat.Close()
}

// Decode reads an encoded image (jpeg, png, ...) into a MatFrame.
func Decode(data []byte) (iface.Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	if mat.Empty() {
		_ = mat.Close()
		return nil, errors.New("decoded image is empty or unsupported format")
	}
	return &MatFrame{mat: mat}, nil
}
