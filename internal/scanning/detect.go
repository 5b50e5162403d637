package scanning

import (
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

const (
	// MinAspectRatio is the minimum height/width of a receipt candidate.
	MinAspectRatio = 1.2
	// MinRelativeWidth is the minimum candidate width as a fraction of the frame.
	MinRelativeWidth = 0.2

	probeWidth = 200
)

// RectangleDetector finds candidate receipt regions in a photo.
type RectangleDetector interface {
	Detect(img image.Image) ([]image.Rectangle, error)
}

// BrightRegionDetector looks for the bounding box of the paper: rows and
// columns where most pixels are brighter than Threshold.
type BrightRegionDetector struct {
	// Threshold is the 0-255 luminance a pixel needs to count as paper.
	Threshold uint8
	// Coverage is the fraction of bright pixels a row or column needs.
	Coverage float64
}

// NewBrightRegionDetector returns a detector tuned for white receipt paper.
func NewBrightRegionDetector() *BrightRegionDetector {
	return &BrightRegionDetector{Threshold: 170, Coverage: 0.5}
}

// Detect works on a downscaled grayscale copy and scales the region back.
func (d *BrightRegionDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, nil
	}

	probe := imaging.Grayscale(img)
	scale := 1.0
	if bounds.Dx() > probeWidth {
		probe = imaging.Resize(probe, probeWidth, 0, imaging.Box)
		scale = float64(bounds.Dx()) / float64(probe.Bounds().Dx())
	}

	w, h := probe.Bounds().Dx(), probe.Bounds().Dy()
	rows := make([]int, h)
	cols := make([]int, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if probe.Pix[y*probe.Stride+x*4] >= d.Threshold {
				rows[y]++
				cols[x]++
			}
		}
	}

	// a row is paper when enough of the columns that can hold paper are bright
	x0, x1 := span(cols, d.Coverage*float64(h))
	if x0 < 0 {
		return nil, nil
	}
	y0, y1 := span(rows, d.Coverage*float64(x1-x0))
	if y0 < 0 {
		return nil, nil
	}

	r := image.Rect(
		bounds.Min.X+int(float64(x0)*scale),
		bounds.Min.Y+int(float64(y0)*scale),
		bounds.Min.X+int(float64(x1)*scale),
		bounds.Min.Y+int(float64(y1)*scale),
	).Intersect(bounds)
	if r.Empty() {
		return nil, nil
	}
	return []image.Rectangle{r}, nil
}

// span returns the half-open index range from the first to the last count
// at or above need, or -1, -1 when there is none.
func span(counts []int, need float64) (int, int) {
	first, last := -1, -1
	for i, c := range counts {
		if need > 0 && float64(c) >= need {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return -1, -1
	}
	return first, last + 1
}

// FilterCandidates keeps rectangles that are taller than they are wide by
// at least MinAspectRatio and at least MinRelativeWidth of the frame wide.
func FilterCandidates(candidates []image.Rectangle, frame image.Rectangle) []image.Rectangle {
	var out []image.Rectangle
	for _, c := range candidates {
		if c.Dx() <= 0 || c.Dy() <= 0 {
			continue
		}
		if float64(c.Dy())/float64(c.Dx()) < MinAspectRatio {
			continue
		}
		if float64(c.Dx()) < MinRelativeWidth*float64(frame.Dx()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ReceiptRegion returns the first acceptable candidate from detector, or the
// full image when detection fails or finds nothing usable.
func ReceiptRegion(detector RectangleDetector, img image.Image, logger *slog.Logger) image.Rectangle {
	if detector == nil {
		return img.Bounds()
	}
	candidates, err := detector.Detect(img)
	if err != nil {
		logger.Warn("Rectangle detection failed, using full image", "error", err)
		return img.Bounds()
	}
	if kept := FilterCandidates(candidates, img.Bounds()); len(kept) > 0 {
		logger.Debug("Receipt region detected", "region", kept[0].String())
		return kept[0]
	}
	logger.Debug("No receipt region detected, using full image", "candidates", len(candidates))
	return img.Bounds()
}
