// Package capture produces the stream of frames the plate pipeline
// consumes, either live from a camera, file or stream URL, or replayed
// from a directory of archived stills.
package capture

import (
	"context"

	"gocv.io/x/gocv"
)

// DefaultFPS is assumed when a source cannot report its own frame rate.
const DefaultFPS = 30.0

// Frame is one video frame. Numbers start at 1 and increase by one per
// delivered frame. Image ownership transfers to the receiver, which must
// Close it.
type Frame struct {
	Image  gocv.Mat
	Number int
}

// Source yields frames in order. Next returns io.EOF once the stream is
// exhausted; any other error is a capture failure. FPS reports the source
// frame rate, or 0 when the source does not know it.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	FPS() float64
	Close() error
}
