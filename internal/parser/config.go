package parser

import (
	"fmt"
	"strings"
)

const (
	ProfileStrict  = "strict"
	ProfileLenient = "lenient"
)

// Config holds every threshold the pipeline uses.
type Config struct {
	Profile string

	// MinConfidence drops observations below this recognizer confidence.
	MinConfidence float64

	// HeaderThreshold is the elevation above which a line is header metadata.
	HeaderThreshold float64
	// ExclusionThreshold is the exclusion score above which a line is metadata.
	ExclusionThreshold float64

	// AcceptThreshold and UncertainThreshold gate line-item admission. Lines
	// scoring in [UncertainThreshold, AcceptThreshold) are kept but flagged.
	AcceptThreshold    float64
	UncertainThreshold float64

	// GroupingGap is the largest vertical gap, as a fraction of image height,
	// between a name-only line and the price line merged into it.
	GroupingGap float64

	// ColumnTolerance is the clustering distance for price right edges and
	// MinColumnWidth the narrowest column reported, both as fractions of width.
	ColumnTolerance float64
	MinColumnWidth  float64
	// MisalignedPenalty is subtracted from a line whose price is off-column.
	MisalignedPenalty float64

	// FooterBand is the elevation at or below which totals candidates are searched.
	FooterBand float64

	// ConsistentTolerance and WarnTolerance bound the allowed disagreement
	// between an extracted total and the one calculated from the subtotal.
	ConsistentTolerance float64
	WarnTolerance       float64

	// DerivePercentages turns a tax or service amount into a percentage of
	// the subtotal when the line carries no explicit percentage.
	DerivePercentages bool

	// Diagnostics attaches per-line scoring details to the result.
	Diagnostics bool
}

// Strict returns the canonical thresholds.
func Strict() Config {
	return Config{
		Profile:             ProfileStrict,
		MinConfidence:       0.7,
		HeaderThreshold:     0.7,
		ExclusionThreshold:  0.7,
		AcceptThreshold:     0.5,
		UncertainThreshold:  0.45,
		GroupingGap:         0.03,
		ColumnTolerance:     0.05,
		MinColumnWidth:      0.02,
		MisalignedPenalty:   0.2,
		FooterBand:          0.3,
		ConsistentTolerance: 0.02,
		WarnTolerance:       0.05,
		DerivePercentages:   true,
	}
}

// Lenient returns the looser thresholds of the earlier parser generation.
// It has no uncertain band.
func Lenient() Config {
	c := Strict()
	c.Profile = ProfileLenient
	c.MinConfidence = 0.5
	c.HeaderThreshold = 0.8
	c.ExclusionThreshold = 0.8
	c.AcceptThreshold = 0.4
	c.UncertainThreshold = 0.4
	c.GroupingGap = 0.05
	return c
}

// ConfigForProfile looks up a named profile.
func ConfigForProfile(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfileStrict:
		return Strict(), nil
	case ProfileLenient:
		return Lenient(), nil
	default:
		return Config{}, fmt.Errorf("unknown parser profile %q", name)
	}
}
