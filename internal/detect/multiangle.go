package detect

import (
	"context"
	"fmt"

	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/plates"
	"github.com/banshee-data/plate.report/internal/vision"
	"gocv.io/x/gocv"
)

// MultiAngle runs an inner detector over the upright frame and, when asked,
// over rotated copies of it, merging all hits into a single list in
// upright-frame coordinates. The upright pass always runs first and the
// rotated passes follow in plates.RotationAngles order, so for a given
// frame the hits arrive in a stable order.
type MultiAngle struct {
	det       Detector
	threshold float64
}

// NewMultiAngle wraps det. Hits scoring below threshold are discarded.
func NewMultiAngle(det Detector, threshold float64) *MultiAngle {
	return &MultiAngle{det: det, threshold: threshold}
}

// Detect finds plates in frame. With rotate set, the frame is additionally
// scanned at each angle in plates.RotationAngles and those hits are mapped
// back to upright coordinates. Crops, and therefore clarity scores, are
// always taken from the orientation the plate was actually found in.
func (m *MultiAngle) Detect(ctx context.Context, frame gocv.Mat, rotate bool) ([]plates.Detection, error) {
	if frame.Empty() {
		return nil, nil
	}
	tr := plates.NewRotationTransformer(frame.Cols(), frame.Rows())

	out, err := m.detectAt(ctx, frame, 0, tr, nil)
	if err != nil {
		return nil, err
	}
	if !rotate {
		return out, nil
	}
	for _, angle := range plates.RotationAngles {
		out, err = m.detectAt(ctx, frame, angle, tr, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close releases the inner detector.
func (m *MultiAngle) Close() error {
	return m.det.Close()
}

func (m *MultiAngle) detectAt(ctx context.Context, frame gocv.Mat, angle int, tr *plates.RotationTransformer, out []plates.Detection) ([]plates.Detection, error) {
	view := frame
	if angle != 0 {
		view = vision.Rotate(frame, angle)
		defer view.Close()
	}

	objs, err := m.det.Detect(ctx, view)
	if err != nil {
		return nil, fmt.Errorf("detect at %d degrees: %w", angle, err)
	}

	w, h := view.Cols(), view.Rows()
	for _, obj := range objs {
		if obj.Confidence < m.threshold {
			monitoring.Debugf("detect: hit at %d deg below confidence threshold (%.3f < %.3f)", angle, obj.Confidence, m.threshold)
			continue
		}
		b := obj.Box
		if b.Min.X < 0 || b.Min.Y < 0 || b.Max.X >= w || b.Max.Y >= h || b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y {
			monitoring.Debugf("detect: dropping malformed box %v at %d deg", b, angle)
			continue
		}

		crop := vision.Crop(view, b)
		clarity := vision.Sharpness(crop)
		png, err := vision.EncodePNG(crop)
		crop.Close()
		if err != nil {
			monitoring.Debugf("detect: dropping box %v at %d deg: %v", b, angle, err)
			continue
		}

		box := plates.BoxFromRect(b)
		if angle != 0 {
			box = tr.ToOriginal(box, angle)
		}
		out = append(out, plates.Detection{
			Box:        box,
			Confidence: obj.Confidence,
			Clarity:    clarity,
			Rotation:   angle,
			Image:      png,
		})
	}
	return out, nil
}
