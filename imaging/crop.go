// Package imaging holds frame implementations and region cropping.
package imaging

import (
	"fmt"
	"image"

	"CascadeDetServer/geometry"
	iface "CascadeDetServer/interface"
)

// Decoder turns an encoded image into a frame.
type Decoder func(data []byte) (iface.Frame, error)

// CropRegion extracts the sub-image selected by weights and conditions from
// box. The rectangle is clamped to the frame; an empty result wraps
// geometry.ErrGeometry.
func CropRegion(frame iface.Frame, box geometry.BoundingBox, w geometry.Weights, conditions []geometry.Condition) (iface.Frame, image.Rectangle, error) {
	r, err := geometry.Transform(box, w, conditions)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	px, err := geometry.Clamp(r, frame.Bounds())
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	crop, err := frame.Crop(px)
	if err != nil {
		return nil, px, fmt.Errorf("%w: %v", geometry.ErrGeometry, err)
	}
	return crop, px, nil
}
