package scanning

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/tabsplit/internal/parser"
)

// Tesseract implements the Recognizer interface using a local Tesseract
// installation. Requests are serialized over a single client.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a Tesseract recognizer for the given language codes
// (e.g. "eng" or "eng+deu").
func NewTesseract(lang string) (*Tesseract, error) {
	if lang == "" {
		lang = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}

	return &Tesseract{client: client}, nil
}

// Recognize returns one observation per text line.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]parser.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("loading image into tesseract: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognizing text lines: %w", err)
	}

	origin := img.Bounds().Min
	return observationsFromBoxes(boxes, origin), nil
}

func observationsFromBoxes(boxes []gosseract.BoundingBox, origin image.Point) []parser.Observation {
	observations := make([]parser.Observation, 0, len(boxes))
	for _, b := range boxes {
		text := strings.Join(strings.Fields(b.Word), " ")
		if text == "" {
			continue
		}
		r := b.Box.Sub(origin)
		observations = append(observations, parser.Observation{
			Text:       text,
			Confidence: clampConfidence(b.Confidence / 100),
			Box: parser.Rect{
				X:      float64(r.Min.X),
				Y:      float64(r.Min.Y),
				Width:  float64(r.Dx()),
				Height: float64(r.Dy()),
			},
		})
	}
	return observations
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Close releases the tesseract client
func (t *Tesseract) Close() error {
	return t.client.Close()
}
