// internal/redact/redactor.go
package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"go.uber.org/zap"
)

// PanelColor is the background of the code/output panel that is always masked.
var PanelColor = color.RGBA{R: 45, G: 51, B: 59, A: 255}

const (
	colorTolerance = 2
	barThickness   = 5
	barSpacing     = 2 * barThickness
	barPosition    = 0.75
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// TextBox is a region of the frame that holds recognized text.
type TextBox struct {
	Rect image.Rectangle
	Text string
}

// TextDetector finds text regions in a frame.
type TextDetector interface {
	DetectText(img image.Image) ([]TextBox, error)
}

// Redactor masks sensitive content in screenshots before they leave the
// process.
type Redactor struct {
	detector TextDetector
	logger   *zap.Logger
}

// New creates a Redactor. A nil detector skips the text masking step.
func New(detector TextDetector, logger *zap.Logger) *Redactor {
	return &Redactor{detector: detector, logger: logger.Named("redactor")}
}

// Redact decodes a PNG or JPEG frame, redacts it and encodes it back to the
// same format.
func (r *Redactor) Redact(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	out, err := r.RedactImage(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, out)
	case "jpeg":
		err = jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90})
	default:
		return nil, fmt.Errorf("unsupported frame format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode redacted frame: %w", err)
	}
	return buf.Bytes(), nil
}

// RedactImage returns a redacted copy of img. Steps run in order, so later
// masks paint over earlier ones:
//  1. the bounding box of the largest panel-colored region is filled with the panel color
//  2. every detected text box with non-blank text is filled white
//  3. two white bars are drawn across the bottom quarter
//
// A text detection failure is returned as an error and no frame is produced.
func (r *Redactor) RedactImage(img image.Image) (*image.RGBA, error) {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	if rect, ok := largestRegion(out, PanelColor, colorTolerance); ok {
		fill(out, rect, PanelColor)
		r.logger.Debug("Masked panel region.", zap.Stringer("rect", rect))
	}

	if r.detector != nil {
		boxes, err := r.detector.DetectText(out)
		if err != nil {
			r.logger.Warn("Text detection failed, dropping frame.", zap.Error(err))
			return nil, fmt.Errorf("text detection failed: %w", err)
		}
		masked := 0
		for _, box := range boxes {
			if strings.TrimSpace(box.Text) == "" {
				continue
			}
			fill(out, box.Rect, white)
			masked++
		}
		r.logger.Debug("Masked text regions.", zap.Int("count", masked), zap.Int("detected", len(boxes)))
	}

	for _, y := range BarRows(out.Bounds().Dy()) {
		fill(out, image.Rect(0, y-barThickness/2, out.Bounds().Dx(), y+barThickness/2+1), white)
	}
	return out, nil
}

// BarRows returns the center rows of the two bottom bars for a frame of the
// given height.
func BarRows(height int) [2]int {
	y1 := int(float64(height) * barPosition)
	return [2]int{y1, y1 - barSpacing}
}

// InBar reports whether row y is covered by one of the bottom bars.
func InBar(y, height int) bool {
	for _, c := range BarRows(height) {
		if y >= c-barThickness/2 && y <= c+barThickness/2 {
			return true
		}
	}
	return false
}

func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(img, rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func matches(img *image.RGBA, x, y int, ref color.RGBA, tol int) bool {
	i := img.PixOffset(x, y)
	p := img.Pix[i : i+3 : i+3]
	return within(p[0], ref.R, tol) && within(p[1], ref.G, tol) && within(p[2], ref.B, tol)
}

func within(v, ref uint8, tol int) bool {
	d := int(v) - int(ref)
	return d >= -tol && d <= tol
}

// largestRegion finds the 8-connected region of pixels within tol of ref
// with the most pixels and returns its bounding rectangle.
func largestRegion(img *image.RGBA, ref color.RGBA, tol int) (image.Rectangle, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	visited := make([]bool, w*h)

	var best image.Rectangle
	bestSize := 0
	stack := make([]int, 0, 64)

	for start := 0; start < w*h; start++ {
		if visited[start] {
			continue
		}
		visited[start] = true
		if !matches(img, bounds.Min.X+start%w, bounds.Min.Y+start/w, ref, tol) {
			continue
		}

		size := 0
		minX, minY, maxX, maxY := w, h, -1, -1
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			size++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if visited[n] {
						continue
					}
					visited[n] = true
					if matches(img, bounds.Min.X+nx, bounds.Min.Y+ny, ref, tol) {
						stack = append(stack, n)
					}
				}
			}
		}

		if size > bestSize {
			bestSize = size
			best = image.Rect(minX, minY, maxX+1, maxY+1).Add(bounds.Min)
		}
	}
	return best, bestSize > 0
}
