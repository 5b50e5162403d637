package parser

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	qualityKeywords = []string{"total", "subtotal", "tax", "service", "tip", "amount"}
	decimalPrice    = regexp.MustCompile(`\d+\.\d{2}`)
)

// recognitionQuality is a rough [0,1] measure of how receipt-like the
// recognized text is: totals keywords (40%), decimal prices (30%), a large
// amount near the bottom (20%) and horizontal alignment (10%).
func recognitionQuality(obs []Observation, size Size) float64 {
	if len(obs) == 0 {
		return 0
	}

	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Box.MinY() < sorted[j].Box.MinY() })

	texts := make([]string, len(sorted))
	for i, o := range sorted {
		texts[i] = o.Text
	}
	joined := strings.Join(texts, " ")
	lower := strings.ToLower(joined)

	var score float64

	found := 0
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			found++
		}
	}
	score += float64(found) / float64(len(qualityKeywords)) * 0.4

	prices := len(decimalPrice.FindAllString(joined, -1))
	score += math.Min(float64(prices)/5, 1) * 0.3

	tail := sorted[len(sorted)-max(1, len(sorted)*3/10):]
	for _, o := range tail {
		if m := decimalPrice.FindString(o.Text); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil && v > 10 {
				score += 0.2
				break
			}
		}
	}

	var mid []float64
	for _, o := range sorted {
		mid = append(mid, o.Box.MidX()/size.Width)
	}
	m := mean(mid)
	var variance float64
	for _, x := range mid {
		variance += (x - m) * (x - m)
	}
	variance /= float64(len(mid))
	score += math.Max(0, 1-variance*10) * 0.1

	return clamp(score)
}
