// Package detect locates license plates in video frames.
//
// A Detector finds candidate plate regions in a single image. MultiAngle
// wraps a Detector and re-runs it over rotated copies of the frame so that
// plates photographed sideways or upside down are still found, mapping
// every hit back into the coordinate space of the upright frame.
package detect

import (
	"context"
	"image"

	"gocv.io/x/gocv"
)

// Object is one raw detector hit, in the coordinates of the frame the
// detector was handed.
type Object struct {
	Box        image.Rectangle
	Confidence float64
	ClassID    int
}

// Detector finds plate candidates in a frame. Implementations are called
// from a single goroutine and need not be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat) ([]Object, error)
	Close() error
}
