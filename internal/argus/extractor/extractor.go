// Package extractor defines the contract of the image-to-template pipeline.
// Face localization and embedding happen outside this module.
package extractor

import (
	"context"
	"errors"
)

var (
	ErrNoFaceDetected   = errors.New("no face detected")
	ErrModelUnavailable = errors.New("template model unavailable")
)

// Extractor turns an encoded image into a fixed-length template.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float64, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, image []byte) ([]float64, error)

func (f Func) Extract(ctx context.Context, image []byte) ([]float64, error) {
	return f(ctx, image)
}

// Unavailable is used when no model is deployed; every call fails with
// ErrModelUnavailable.
type Unavailable struct{}

func (Unavailable) Extract(context.Context, []byte) ([]float64, error) {
	return nil, ErrModelUnavailable
}
