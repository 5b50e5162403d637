// Package scanning turns uploaded receipt files into recognized text lines.
package scanning

import (
	"context"
	"image"

	"github.com/zombor/tabsplit/internal/parser"
)

// Recognizer defines the interface for text recognition engines
type Recognizer interface {
	// Recognize returns the text lines found in img with pixel boxes in
	// img's own top-left coordinate space.
	Recognize(ctx context.Context, img image.Image) ([]parser.Observation, error)
	// Close releases resources held by the engine
	Close() error
}

// FromNormalizedBottomLeft converts a box given as fractions of the image
// with the origin at the bottom-left corner into a pixel box with the origin
// at the top-left corner.
func FromNormalizedBottomLeft(r parser.Rect, size parser.Size) parser.Rect {
	return parser.Rect{
		X:      r.X * size.Width,
		Y:      (1 - r.Y - r.Height) * size.Height,
		Width:  r.Width * size.Width,
		Height: r.Height * size.Height,
	}
}

// SizeOf returns the pixel size of img.
func SizeOf(img image.Image) parser.Size {
	b := img.Bounds()
	return parser.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}
