// Package embedding talks to the face embedding service that stands in for
// the face detection model: detection, landmark alignment and descriptor
// extraction all happen on the service side.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrModelsNotLoaded is returned when the service is reachable but its models are not ready.
	ErrModelsNotLoaded = errors.New("face models not loaded")

	// ErrDimensionMismatch is returned when the service returns a descriptor of unexpected length.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")

	// ErrImageTooLarge is returned by Prepare for images above constants.MaxDecodePixels.
	ErrImageTooLarge = errors.New("image too large to decode")
)

// Descriptor is a face embedding. Descriptors are never mutated once produced.
type Descriptor []float32

// Face is one detected face.
type Face struct {
	Index      int
	Descriptor Descriptor
	BBox       []float64 // [x1, y1, x2, y2] in pixels of the submitted image
	Score      float64
}

// Provider computes face descriptors for images. Models must be loaded once
// before the first detection call.
type Provider interface {
	// LoadModels blocks until the detection models are ready.
	LoadModels(ctx context.Context) error
	// DetectAll returns every face in the image, possibly none.
	DetectAll(ctx context.Context, imageData []byte) ([]Face, error)
	// DetectSingle returns the most confident face, or nil when there is none.
	DetectSingle(ctx context.Context, imageData []byte) (*Face, error)
}

// BestFace returns the face with the highest detection score, or nil for an empty slice.
func BestFace(faces []Face) *Face {
	var best *Face
	for i := range faces {
		if best == nil || faces[i].Score > best.Score {
			best = &faces[i]
		}
	}
	return best
}
