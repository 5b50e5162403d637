package parser

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/zombor/tabsplit/internal/money"
)

// line is a working copy of an observation as it moves through the pipeline.
type line struct {
	Text       string
	Confidence float64
	Box        Rect
	// PriceBox locates the price. It differs from Box only for merged lines.
	PriceBox    Rect
	GroupedWith string
}

func linesFrom(obs []Observation) []line {
	lines := make([]line, 0, len(obs))
	for _, o := range obs {
		lines = append(lines, line{Text: o.Text, Confidence: o.Confidence, Box: o.Box, PriceBox: o.Box})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Box.MinY() != lines[j].Box.MinY() {
			return lines[i].Box.MinY() < lines[j].Box.MinY()
		}
		return lines[i].Box.MinX() < lines[j].Box.MinX()
	})
	return lines
}

// groupLines merges an item name printed without a price with the price
// printed on the line directly below it. Input must be sorted top to bottom.
func (p *Parser) groupLines(lines []line, size Size, column *ColumnAlignment) []line {
	maxGap := p.cfg.GroupingGap * size.Height
	grouped := make([]line, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		cur := lines[i]
		if i+1 < len(lines) && countLetters(cur.Text) > 0 && !money.HasPrice(cur.Text) {
			next := lines[i+1]
			if p.canMerge(cur, next, size, column, maxGap) {
				cur.Text = strings.TrimSpace(cur.Text + " " + next.Text)
				cur.Confidence = math.Max(cur.Confidence, next.Confidence)
				cur.PriceBox = next.Box
				cur.GroupedWith = next.Text
				grouped = append(grouped, cur)
				i++
				continue
			}
		}
		grouped = append(grouped, cur)
	}
	return grouped
}

func (p *Parser) canMerge(cur, next line, size Size, column *ColumnAlignment, maxGap float64) bool {
	if math.Abs(next.Box.MinY()-cur.Box.MaxY()) > maxGap {
		return false
	}
	if !money.HasPrice(next.Text) || totalsKind(next.Text) != None {
		return false
	}
	trimmed := strings.TrimSpace(next.Text)
	if countLetters(trimmed) > 0 && utf8.RuneCountInString(trimmed) >= 10 {
		return false
	}
	if column != nil && !column.Aligned(next.Box, size) {
		return false
	}
	return true
}
