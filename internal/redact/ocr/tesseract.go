// internal/redact/ocr/tesseract.go
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/xkilldash9x/scalpel-cua/internal/redact"
)

// Tesseract detects word boxes with the Tesseract engine.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

var _ redact.TextDetector = (*Tesseract)(nil)

// NewTesseract creates a detector for the given language, "eng" by default.
func NewTesseract(lang string) (*Tesseract, error) {
	if lang == "" {
		lang = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract language %q: %w", lang, err)
	}
	return &Tesseract{client: client}, nil
}

// DetectText returns one box per recognized word.
func (t *Tesseract) DetectText(img image.Image) ([]redact.TextBox, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame for ocr: %w", err)
	}

	// The underlying engine is not safe for concurrent use.
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to load frame into tesseract: %w", err)
	}
	words, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}

	boxes := make([]redact.TextBox, 0, len(words))
	for _, w := range words {
		boxes = append(boxes, redact.TextBox{Rect: w.Box, Text: w.Word})
	}
	return boxes, nil
}

// Close releases the Tesseract engine.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
