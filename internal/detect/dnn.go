package detect

import (
	"context"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// Config controls the DNN plate detector.
type Config struct {
	// ModelPath points at the serialized network weights. Required.
	ModelPath string

	// ConfigPath points at the network description when the model format
	// keeps it in a separate file. Optional.
	ConfigPath string

	// InputWidth and InputHeight are the blob dimensions the network was
	// trained for.
	InputWidth  int
	InputHeight int

	// MinConfidence prunes the network's low-scoring candidates before
	// they leave the adapter.
	MinConfidence float64

	// ClassID restricts hits to a single class. A negative value accepts
	// every class, which is the right setting for single-class plate
	// models.
	ClassID int
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		InputWidth:    300,
		InputHeight:   300,
		MinConfidence: 0.5,
		ClassID:       -1,
	}
}

// DNN runs an OpenCV object detection network with SSD-style output.
type DNN struct {
	net gocv.Net
	cfg Config
}

var _ Detector = (*DNN)(nil)

// NewDNN loads the network named by cfg. A missing or unreadable model is
// an error; callers are expected to treat it as fatal rather than running
// without detection.
func NewDNN(cfg Config) (*DNN, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("detect: model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("detect: model %s: %w", cfg.ModelPath, err)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("detect: network config %s: %w", cfg.ConfigPath, err)
		}
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		def := DefaultConfig()
		cfg.InputWidth, cfg.InputHeight = def.InputWidth, def.InputHeight
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("detect: could not load network from %s", cfg.ModelPath)
	}
	return &DNN{net: net, cfg: cfg}, nil
}

// Detect runs one forward pass and decodes the SSD result rows
// [image_id, class_id, confidence, left, top, right, bottom] into frame
// coordinates.
func (d *DNN) Detect(ctx context.Context, frame gocv.Mat) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, fmt.Errorf("detect: empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0,
		image.Pt(d.cfg.InputWidth, d.cfg.InputHeight),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()

	w, h := frame.Cols(), frame.Rows()
	var objs []Object
	// The result mat is a contiguous run of 7-float rows whatever its
	// nominal shape, so it is addressed linearly.
	for i := 0; i+6 < prob.Total(); i += 7 {
		classID := int(prob.GetFloatAt(0, i+1))
		if d.cfg.ClassID >= 0 && classID != d.cfg.ClassID {
			continue
		}
		conf := float64(prob.GetFloatAt(0, i+2))
		if conf < d.cfg.MinConfidence {
			continue
		}

		// Coordinates come back normalized to [0,1].
		left := int(float64(prob.GetFloatAt(0, i+3)) * float64(w))
		top := int(float64(prob.GetFloatAt(0, i+4)) * float64(h))
		right := int(float64(prob.GetFloatAt(0, i+5)) * float64(w))
		bottom := int(float64(prob.GetFloatAt(0, i+6)) * float64(h))

		left = clampTo(left, 0, w-1)
		top = clampTo(top, 0, h-1)
		right = clampTo(right, left+1, w)
		bottom = clampTo(bottom, top+1, h)

		objs = append(objs, Object{
			Box:        image.Rect(left, top, right, bottom),
			Confidence: conf,
			ClassID:    classID,
		})
	}
	return objs, nil
}

// Close releases the network.
func (d *DNN) Close() error {
	return d.net.Close()
}

func clampTo(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
