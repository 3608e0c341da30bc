package ocr

import (
	"context"
	"fmt"

	"github.com/banshee-data/plate.report/internal/vision"
	"github.com/otiai10/gosseract/v2"
)

const plateCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Tesseract extracts plate text with the Tesseract engine. Plates carry a
// single line of uppercase letters and digits, so the client is pinned to
// single-line segmentation with a matching character whitelist.
type Tesseract struct {
	client *gosseract.Client
}

var _ TextExtractor = (*Tesseract)(nil)

// NewTesseract configures a Tesseract client for plate reading. language
// defaults to "eng" when empty. Errors here usually mean the language data
// is not installed.
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set language %q: %w", language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(plateCharset); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set whitelist: %w", err)
	}
	return &Tesseract{client: client}, nil
}

// Extract binarizes the crop and runs it through the engine. The result is
// normalized; it may be empty when the engine saw nothing.
func (t *Tesseract) Extract(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mat, err := vision.Decode(img)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	defer mat.Close()

	prepped := vision.PrepareForOCR(mat)
	defer prepped.Close()

	png, err := vision.EncodePNG(prepped)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}

	if err := t.client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("ocr: set image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: read text: %w", err)
	}
	return Normalize(text), nil
}

// Close releases the engine.
func (t *Tesseract) Close() error {
	return t.client.Close()
}
