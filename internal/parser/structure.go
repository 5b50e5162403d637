package parser

import (
	"math"

	"github.com/zombor/tabsplit/internal/money"
)

// ZoneKind names a vertical band of the receipt.
type ZoneKind string

const (
	ZoneHeader ZoneKind = "header"
	ZoneItems  ZoneKind = "items"
	ZoneFooter ZoneKind = "footer"
)

// Zone is a half-open band [Top, Bottom) of normalized top-left Y.
type Zone struct {
	Kind   ZoneKind `json:"kind"`
	Top    float64  `json:"top"`
	Bottom float64  `json:"bottom"`
}

// ColumnAlignment is the inferred right-aligned price column. X and Width
// are fractions of the image width.
type ColumnAlignment struct {
	X          float64 `json:"x"`
	Width      float64 `json:"width"`
	Confidence float64 `json:"confidence"`
}

// Aligned reports whether a box's right edge sits inside the column.
func (c ColumnAlignment) Aligned(box Rect, size Size) bool {
	return math.Abs(box.MaxX()/size.Width-c.X) <= c.Width
}

// analyzeZones splits the vertical extent of the observed text into header
// (top 30%), items (middle 40%) and footer (bottom 30%).
func analyzeZones(obs []Observation, size Size) []Zone {
	if len(obs) == 0 {
		return nil
	}
	top, bottom := math.Inf(1), math.Inf(-1)
	for _, o := range obs {
		y := o.Box.MinY() / size.Height
		top = math.Min(top, y)
		bottom = math.Max(bottom, y)
	}
	h := bottom - top
	return []Zone{
		{Kind: ZoneHeader, Top: top, Bottom: top + 0.3*h},
		{Kind: ZoneItems, Top: top + 0.3*h, Bottom: top + 0.7*h},
		{Kind: ZoneFooter, Top: top + 0.7*h, Bottom: math.Nextafter(bottom, math.Inf(1))},
	}
}

func zoneOf(zones []Zone, box Rect, size Size) ZoneKind {
	y := box.MinY() / size.Height
	for _, z := range zones {
		if y >= z.Top && y < z.Bottom {
			return z.Kind
		}
	}
	return ""
}

type cluster struct {
	seed    float64
	members []float64
}

// detectPriceColumn clusters the right edges of price-bearing observations
// and reports the most populated cluster. Ties go to the right-most cluster.
func (p *Parser) detectPriceColumn(obs []Observation, size Size) *ColumnAlignment {
	var edges []float64
	for _, o := range obs {
		if money.HasPrice(o.Text) {
			edges = append(edges, o.Box.MaxX()/size.Width)
		}
	}
	if len(edges) == 0 {
		return nil
	}

	var clusters []*cluster
	for _, x := range edges {
		var home *cluster
		for _, c := range clusters {
			if math.Abs(x-c.seed) < p.cfg.ColumnTolerance {
				home = c
				break
			}
		}
		if home == nil {
			home = &cluster{seed: x}
			clusters = append(clusters, home)
		}
		home.members = append(home.members, x)
	}

	var best *cluster
	var bestMean float64
	for _, c := range clusters {
		m := mean(c.members)
		if best == nil || len(c.members) > len(best.members) ||
			(len(c.members) == len(best.members) && m > bestMean) {
			best, bestMean = c, m
		}
	}

	var variance float64
	for _, x := range best.members {
		variance += (x - bestMean) * (x - bestMean)
	}
	std := math.Sqrt(variance / float64(len(best.members)))

	return &ColumnAlignment{
		X:          bestMean,
		Width:      math.Max(2*std, p.cfg.MinColumnWidth),
		Confidence: float64(len(best.members)) / float64(len(edges)),
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
