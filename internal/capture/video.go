package capture

import (
	"context"
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

// VideoSource reads frames from anything OpenCV can open: a camera index
// ("0"), a video file path or a stream URL.
type VideoSource struct {
	cap    *gocv.VideoCapture
	number int
}

var _ Source = (*VideoSource)(nil)

// OpenVideo opens the named source and verifies it delivers frames.
func OpenVideo(source string) (*VideoSource, error) {
	cap, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("capture: opening %s: %w", source, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("capture: %s did not open", source)
	}
	return &VideoSource{cap: cap}, nil
}

// Next reads one frame. A failed or empty read means the stream has ended
// and returns io.EOF, which is how finite video files normally finish.
func (v *VideoSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	img := gocv.NewMat()
	if ok := v.cap.Read(&img); !ok || img.Empty() {
		img.Close()
		return Frame{}, io.EOF
	}
	v.number++
	return Frame{Image: img, Number: v.number}, nil
}

// FPS reports the frame rate the container or driver advertises; 0 when it
// does not advertise one.
func (v *VideoSource) FPS() float64 {
	return v.cap.Get(gocv.VideoCaptureFPS)
}

// Close releases the underlying capture device.
func (v *VideoSource) Close() error {
	return v.cap.Close()
}
