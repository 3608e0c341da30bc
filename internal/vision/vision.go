// Package vision wraps the OpenCV primitives the plate pipeline relies on:
// sharpness scoring, frame rotation, cropping, PNG encoding and buffer-level
// image similarity. All functions that return a gocv.Mat transfer ownership
// to the caller, who must Close it.
package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Sharpness scores how crisp an image is as the population variance of its
// Laplacian response. Flat images score 0, blurring lowers the score. An
// empty Mat scores 0.
func Sharpness(img gocv.Mat) float64 {
	if img.Empty() {
		return 0
	}

	gray := grayscale(img)
	defer gray.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	vals, err := lap.DataPtrFloat64()
	if err != nil || len(vals) == 0 {
		return 0
	}
	return stat.PopVariance(vals, nil)
}

// MSE returns the mean squared error between two images after converting
// both to grayscale and resizing them to their smaller common size. Lower
// values mean more similar images; identical images score 0. If either
// image is empty the result is +Inf so it can never pass a similarity
// threshold.
func MSE(a, b gocv.Mat) float64 {
	if a.Empty() || b.Empty() {
		return math.Inf(1)
	}

	grayA := grayscale(a)
	defer grayA.Close()
	grayB := grayscale(b)
	defer grayB.Close()

	w := grayA.Cols()
	if grayB.Cols() < w {
		w = grayB.Cols()
	}
	h := grayA.Rows()
	if grayB.Rows() < h {
		h = grayB.Rows()
	}
	if w < 1 || h < 1 {
		return math.Inf(1)
	}

	size := image.Point{X: w, Y: h}
	smallA := gocv.NewMat()
	defer smallA.Close()
	gocv.Resize(grayA, &smallA, size, 0, 0, gocv.InterpolationLinear)
	smallB := gocv.NewMat()
	defer smallB.Close()
	gocv.Resize(grayB, &smallB, size, 0, 0, gocv.InterpolationLinear)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(smallA, smallB, &diff)

	data, err := diff.DataPtrUint8()
	if err != nil || len(data) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for _, d := range data {
		sum += float64(d) * float64(d)
	}
	return sum / float64(len(data))
}

// MSEBytes compares two PNG-encoded images. Buffers that fail to decode
// score +Inf.
func MSEBytes(a, b []byte) float64 {
	matA, err := Decode(a)
	if err != nil {
		return math.Inf(1)
	}
	defer matA.Close()

	matB, err := Decode(b)
	if err != nil {
		return math.Inf(1)
	}
	defer matB.Close()

	return MSE(matA, matB)
}

// Rotate returns a copy of src rotated by angle degrees. Positive 90 rotates
// clockwise, -90 counter-clockwise, 180 flips. Any other angle returns an
// unrotated clone. Width and height swap for the 90-degree cases.
func Rotate(src gocv.Mat, angle int) gocv.Mat {
	var code gocv.RotateFlag
	switch angle {
	case 90:
		code = gocv.Rotate90Clockwise
	case -90:
		code = gocv.Rotate90CounterClockwise
	case 180:
		code = gocv.Rotate180Clockwise
	default:
		return src.Clone()
	}

	dst := gocv.NewMat()
	gocv.Rotate(src, &dst, code)
	return dst
}

// Crop copies the given region out of src. The rectangle is clipped to the
// image bounds first; a rectangle entirely outside the image yields an
// empty Mat.
func Crop(src gocv.Mat, box image.Rectangle) gocv.Mat {
	bounds := image.Rect(0, 0, src.Cols(), src.Rows())
	box = box.Intersect(bounds)
	if box.Empty() {
		return gocv.NewMat()
	}

	region := src.Region(box)
	defer region.Close()
	return region.Clone()
}

// EncodePNG serializes img as PNG. The returned slice is an independent
// copy, safe to retain after the Mat is closed.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Decode parses an encoded image buffer into a BGR Mat.
func Decode(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("decoded image is empty")
	}
	return img, nil
}

// PrepareForOCR converts a plate crop into the binarized form the OCR engine
// reads best: grayscale, 3x3 median blur to knock out sensor noise, then an
// Otsu threshold.
func PrepareForOCR(img gocv.Mat) gocv.Mat {
	gray := grayscale(img)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(gray, &blurred, 3)

	binary := gocv.NewMat()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return binary
}

// grayscale returns a single-channel copy of img.
func grayscale(img gocv.Mat) gocv.Mat {
	if img.Channels() == 1 {
		return img.Clone()
	}
	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray
}
