// Package plates holds the identity-consolidation core of the plate
// pipeline: per-frame detection records, the registry that deduplicates
// them into stable plate identities, coordinate remapping for detections
// found in rotated frames, and frame-gap speed estimation.
package plates

import "image"

// Box is a detection rectangle in pixel coordinates. (X1,Y1) is the top
// left corner and (X2,Y2) the bottom right, matching the detector output
// convention.
type Box struct {
	X1, Y1, X2, Y2 int
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Rect returns the box as an image.Rectangle for cropping.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one plate candidate from one frame at one rotation angle.
// Box coordinates are in the space of the original (unrotated) frame;
// Image is the PNG-encoded crop taken from the correctly oriented frame.
type Detection struct {
	Box        Box
	Confidence float64
	Clarity    float64
	Rotation   int
	Image      []byte
}

// Plate is a deduplicated identity with its best representative
// observation. Image, Clarity, Confidence and Rotation always describe the
// same (sharpest seen) detection. Speed is nil until the estimator has
// produced a plausible value.
type Plate struct {
	ID         string
	Text       string
	Image      []byte
	Clarity    float64
	Confidence float64
	Rotation   int
	Speed      *float64
}
