// Package pipeline drives the frame loop: it pulls frames from a capture
// source, runs plate detection and OCR, consolidates detections into plate
// identities, derives speeds, and persists the best capture per plate.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/plate.report/internal/capture"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/fsutil"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/ocr"
	"github.com/banshee-data/plate.report/internal/plates"
	"github.com/banshee-data/plate.report/internal/timeutil"
	"github.com/banshee-data/plate.report/internal/vision"
)

// Default persistence gates.
const (
	DefaultMinClarity     = 100.0
	DefaultMinConfidence  = 0.55
	DefaultDistanceMeters = 15.0
)

// Crops whose mean squared error is below this are treated as the same
// physical plate when no text is available to match on.
const samePlateMSE = 500.0

// Detector finds plate candidates in a frame, optionally scanning the
// rotated views as well.
type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat, rotate bool) ([]plates.Detection, error)
	Close() error
}

// Store is the slice of the database the pipeline writes through.
type Store interface {
	UpsertPlate(p db.PlateUpsert) (db.UpsertOutcome, error)
	UpdatePlateSpeed(ref string, speed float64) (bool, error)
	CreateRun(source, configJSON string) (*db.Run, error)
	FinishRun(id string, frames, detections, plates int64, runErr error) error
}

// Options tune one processing run. They serialize into the run record, so
// a stored run can be read back with the exact settings it ran under.
type Options struct {
	// Source labels the run record (file path, device, stream URL).
	Source string `json:"source"`

	// MinClarity and MinConfidence gate which detections reach the
	// registry and the database. Zero values take the defaults.
	MinClarity    float64 `json:"min_clarity"`
	MinConfidence float64 `json:"min_confidence"`

	// UseOCR runs text extraction on each surviving detection. Unreadable
	// plates still get a durable UNKNOWN_<n> name so they can be keyed.
	UseOCR bool `json:"use_ocr"`

	// MeasureSpeed derives per-plate speeds from frame gaps.
	MeasureSpeed   bool    `json:"measure_speed"`
	DistanceMeters float64 `json:"distance_meters"`

	// FPS overrides the source's reported frame rate when positive.
	FPS float64 `json:"fps,omitempty"`

	// SaveDir is the crop archive root. Empty disables archiving.
	SaveDir string `json:"save_dir,omitempty"`

	// RotationScan sets the initial state of the rotated-view scan. It can
	// be toggled between frames with SetRotationScan.
	RotationScan bool `json:"rotation_scan"`
}

// Resolution records one detection's identity outcome within a frame.
type Resolution struct {
	IdentityID string
	IsUpdate   bool
}

// Progress is a point-in-time view of a pipeline.
type Progress struct {
	RunID      string `json:"run_id"`
	Frames     int64  `json:"frames"`
	Detections int64  `json:"detections"`
	Plates     int    `json:"plates"`
	Rotation   bool   `json:"rotation_scan"`
}

// Pipeline owns one pass over a frame source. Construct with New, start
// with Run, observe with Snapshot.
type Pipeline struct {
	// FrameSink, when set before Run, receives every frame's resolutions
	// in frame order (an overlay or event hook). Called on the loop
	// goroutine, so it must not block.
	FrameSink func(frameNumber int, resolutions []Resolution)

	source    capture.Source
	detector  Detector
	extractor ocr.TextExtractor
	store     Store
	archive   *Archive
	clock     timeutil.Clock

	opts Options

	registry  *plates.Registry
	estimator *plates.SpeedEstimator

	rotate     atomic.Bool
	frames     atomic.Int64
	detections atomic.Int64

	mu    sync.Mutex
	runID string
}

// New assembles a pipeline. The extractor is always required; pass
// ocr.Noop{} when text extraction is disabled.
func New(source capture.Source, detector Detector, extractor ocr.TextExtractor, store Store, opts Options) (*Pipeline, error) {
	if opts.MinClarity == 0 {
		opts.MinClarity = DefaultMinClarity
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.DistanceMeters == 0 {
		opts.DistanceMeters = DefaultDistanceMeters
	}

	p := &Pipeline{
		source:    source,
		detector:  detector,
		extractor: extractor,
		store:     store,
		clock:     timeutil.RealClock{},
		opts:      opts,
		registry: plates.NewRegistry(func(a, b []byte) bool {
			return vision.MSEBytes(a, b) < samePlateMSE
		}),
	}
	p.rotate.Store(opts.RotationScan)

	if opts.SaveDir != "" {
		archive, err := NewArchive(fsutil.OSFileSystem{}, opts.SaveDir)
		if err != nil {
			return nil, err
		}
		p.archive = archive
	}

	return p, nil
}

// SetRotationScan enables or disables the rotated-view scan. The change
// takes effect on the next frame; identity and speed state carry over.
func (p *Pipeline) SetRotationScan(enabled bool) {
	p.rotate.Store(enabled)
}

// RotationScan reports whether rotated views are being scanned.
func (p *Pipeline) RotationScan() bool {
	return p.rotate.Load()
}

// Snapshot returns the pipeline's current counters.
func (p *Pipeline) Snapshot() Progress {
	p.mu.Lock()
	runID := p.runID
	p.mu.Unlock()

	return Progress{
		RunID:      runID,
		Frames:     p.frames.Load(),
		Detections: p.detections.Load(),
		Plates:     p.registry.Count(),
		Rotation:   p.rotate.Load(),
	}
}

// Run processes the source until it drains or ctx is canceled, recording
// the run in the store. Cancellation is a normal stop: the run is closed
// out with the counters reached so far. Run is not restartable.
func (p *Pipeline) Run(ctx context.Context) error {
	fps := p.opts.FPS
	if fps <= 0 {
		fps = p.source.FPS()
	}
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	if p.opts.MeasureSpeed {
		p.estimator = plates.NewSpeedEstimator(fps, p.opts.DistanceMeters)
	}

	configJSON, err := json.Marshal(p.opts)
	if err != nil {
		return fmt.Errorf("failed to serialize options: %w", err)
	}
	run, err := p.store.CreateRun(p.opts.Source, string(configJSON))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	p.mu.Lock()
	p.runID = run.ID
	p.mu.Unlock()

	monitoring.Logf("Run %s started on %s (%.1f fps)", run.ID, p.opts.Source, fps)

	runErr := p.loop(ctx)

	if err := p.store.FinishRun(run.ID, p.frames.Load(), p.detections.Load(), int64(p.registry.Count()), runErr); err != nil {
		monitoring.Logf("Failed to finalize run %s: %v", run.ID, err)
	}

	return runErr
}

func (p *Pipeline) loop(ctx context.Context) error {
	lastReport := p.clock.Now()
	var reported int64

	for {
		// Frames are atomic: cancellation is only honored between them.
		if ctx.Err() != nil {
			monitoring.Logf("Processing stopped: %v", ctx.Err())
			return nil
		}

		frame, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			monitoring.Logf("Source drained after %d frames", p.frames.Load())
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			monitoring.Logf("Processing stopped: %v", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		resolutions := p.ProcessFrame(ctx, frame)
		frame.Image.Close()
		p.frames.Add(1)
		if p.FrameSink != nil {
			p.FrameSink(frame.Number, resolutions)
		}

		if since := p.clock.Since(lastReport); since >= time.Second {
			n := p.frames.Load()
			rate := float64(n-reported) / since.Seconds()
			monitoring.Logf("Processed %d frames (%.1f fps), %d plates", n, rate, p.registry.Count())
			lastReport = p.clock.Now()
			reported = n
		}
	}
}

// ProcessFrame runs detection, identity resolution, speed derivation and
// persistence for a single frame, returning the identity outcome of each
// surviving detection. The caller keeps ownership of the frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame capture.Frame) []Resolution {
	detections, err := p.detector.Detect(ctx, frame.Image, p.rotate.Load())
	if err != nil {
		monitoring.Logf("Detection failed on frame %d: %v", frame.Number, err)
		return nil
	}
	p.detections.Add(int64(len(detections)))

	var resolutions []Resolution
	for _, det := range detections {
		if res, ok := p.processDetection(ctx, det, frame.Number); ok {
			resolutions = append(resolutions, res)
		}
	}
	return resolutions
}

func (p *Pipeline) processDetection(ctx context.Context, det plates.Detection, frameNumber int) (Resolution, bool) {
	if det.Clarity < p.opts.MinClarity || det.Confidence < p.opts.MinConfidence {
		monitoring.Debugf("frame %d: candidate below gates (clarity %.1f, confidence %.2f)", frameNumber, det.Clarity, det.Confidence)
		return Resolution{}, false
	}

	text := ""
	if p.opts.UseOCR {
		raw, err := p.extractor.Extract(ctx, det.Image)
		switch {
		case err != nil:
			// A failed read degrades to an unreadable plate, never a
			// dropped detection.
			monitoring.Debugf("frame %d: OCR failed: %v", frameNumber, err)
		case ocr.Plausible(raw):
			text = raw
		case raw != "":
			monitoring.Debugf("frame %d: OCR text %q outside plausible length", frameNumber, raw)
		}
	}

	id, existing := p.registry.Resolve(det, text)
	if !existing && text == "" && p.opts.UseOCR {
		p.registry.SetText(id, fmt.Sprintf("UNKNOWN_%d", p.registry.Sequence()))
	}

	var derived *float64
	if p.estimator != nil {
		p.estimator.AddDetection(id, frameNumber)
		if kmh, ok := p.estimator.DeriveSpeed(id); ok {
			p.registry.SetSpeed(id, kmh)
			derived = &kmh
		}
	}

	p.persist(id, derived)

	return Resolution{IdentityID: id, IsUpdate: existing}, true
}

// persist writes the identity's current best capture through the store and
// refreshes the crop archive. Storage failures are logged and skipped so a
// transient write problem cannot take down the run.
func (p *Pipeline) persist(id string, derived *float64) {
	plate, ok := p.registry.Get(id)
	if !ok {
		return
	}

	filePath := ""
	if p.archive != nil {
		filePath = p.archive.Path(plate)
	}

	outcome, err := p.store.UpsertPlate(db.PlateUpsert{
		PlateID:     plate.ID,
		Text:        plate.Text,
		Image:       plate.Image,
		Clarity:     plate.Clarity,
		Confidence:  plate.Confidence,
		Rotation:    plate.Rotation,
		FilePath:    filePath,
		CaptureUnix: float64(p.clock.Now().Unix()),
	})
	if err != nil {
		monitoring.Logf("Failed to store plate %s: %v", plate.ID, err)
		return
	}

	if outcome != db.UpsertUnchanged && p.archive != nil {
		if _, err := p.archive.Save(plate); err != nil {
			monitoring.Logf("Failed to archive crop for %s: %v", plate.ID, err)
		}
	}

	if derived != nil {
		ref := plate.Text
		if ref == "" {
			ref = plate.ID
		}
		if _, err := p.store.UpdatePlateSpeed(ref, *derived); err != nil {
			monitoring.Logf("Failed to store speed for %s: %v", ref, err)
		}
	}
}

// Close releases the detector, OCR and capture resources. Call it after
// Run has returned.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.detector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.extractor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.source.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
