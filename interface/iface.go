package iface

import (
	"context"
	"image"
)

// Frame is a decoded image that can be cropped.
type Frame interface {
	Bounds() image.Rectangle
	// Crop returns an independent copy of r, which must lie inside Bounds.
	Crop(r image.Rectangle) (Frame, error)
	// Encode serializes the frame for transport to a remote model.
	Encode() ([]byte, error)
	Close() error
}

type Model interface {
	Predict(ctx context.Context, frame Frame) ([]Region, error)
}

type Loader interface {
	Load(ctx context.Context, weightsPath, archPath string) (Model, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, frame Frame) ([]Region, error)

func (f ModelFunc) Predict(ctx context.Context, frame Frame) ([]Region, error) {
	return f(ctx, frame)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, weightsPath, archPath string) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, weightsPath, archPath string) (Model, error) {
	return f(ctx, weightsPath, archPath)
}
