package capture

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/plate.report/internal/fsutil"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/timeutil"
	"github.com/banshee-data/plate.report/internal/vision"
)

// ReplaySource feeds archived still frames from a directory in lexical
// filename order, paced to a fixed frame rate so downstream timing
// behaves as it would on live footage.
type ReplaySource struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
	dir   string
	names []string
	fps   float64

	next   int
	number int
}

var _ Source = (*ReplaySource)(nil)

// NewReplaySource lists the image files under dir. fps values at or below
// zero fall back to DefaultFPS.
func NewReplaySource(fs fsutil.FileSystem, clock timeutil.Clock, dir string, fps float64) (*ReplaySource, error) {
	names, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: reading %s: %w", dir, err)
	}

	var frames []string
	for _, name := range names {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".png", ".jpg", ".jpeg", ".bmp":
			frames = append(frames, name)
		}
	}

	if fps <= 0 {
		fps = DefaultFPS
	}
	return &ReplaySource{fs: fs, clock: clock, dir: dir, names: frames, fps: fps}, nil
}

// Next returns the next decodable frame, sleeping one frame interval
// between deliveries. Files that fail to decode are skipped without
// consuming replay time. Returns io.EOF after the last file.
func (r *ReplaySource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	for r.next < len(r.names) {
		name := r.names[r.next]
		r.next++

		data, err := r.fs.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return Frame{}, fmt.Errorf("capture: reading %s: %w", name, err)
		}
		img, err := vision.Decode(data)
		if err != nil {
			monitoring.Debugf("capture: skipping %s: %v", name, err)
			continue
		}

		if r.number > 0 {
			r.clock.Sleep(time.Duration(float64(time.Second) / r.fps))
		}
		r.number++
		return Frame{Image: img, Number: r.number}, nil
	}
	return Frame{}, io.EOF
}

// FPS reports the replay pacing rate.
func (r *ReplaySource) FPS() float64 {
	return r.fps
}

// Close is a no-op; the source holds no OS resources between reads.
func (r *ReplaySource) Close() error {
	return nil
}
