package parser

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
)

// Score is the line-item admission score of one line and how it was reached.
type Score struct {
	Value     float64            `json:"value"`
	Reasons   []string           `json:"reasons,omitempty"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

func (s *Score) add(key string, v float64, reason string) {
	s.Value += v
	s.Breakdown[key] = v
	s.Reasons = append(s.Reasons, reason)
}

var two = decimal.NewFromInt(2)

// scoreLine rates how likely a line is to be a purchased item. box locates
// the line and priceBox its price; total is the best total known so far.
func scoreLine(text string, box, priceBox Rect, size Size, total decimal.NullDecimal, confidence, exclusion float64) Score {
	s := Score{Breakdown: map[string]float64{}}

	letters := countLetters(text)
	switch {
	case letters >= 3:
		s.add("alphabetic_text", 0.2, fmt.Sprintf("%d letters (+0.2)", letters))
	case letters > 0:
		s.add("alphabetic_text", 0.05, fmt.Sprintf("%d letters, need 3 (+0.05)", letters))
	default:
		s.Reasons = append(s.Reasons, "no letters")
	}

	price, hasPrice := money.LastAmount(text)
	if hasPrice {
		s.add("price_present", 0.3, "price detected (+0.3)")
	} else {
		s.Reasons = append(s.Reasons, "no price")
	}

	if letters < 3 || !hasPrice {
		s.Reasons = append(s.Reasons, "requires 3 letters and a price")
		s.Value = 0
		return s
	}

	switch x := priceBox.MidX() / size.Width; {
	case x > 0.7:
		s.add("price_alignment", 0.15, "price right aligned (+0.15)")
	case x > 0.6:
		s.add("price_alignment", 0.08, "price partly right aligned (+0.08)")
	default:
		s.Reasons = append(s.Reasons, fmt.Sprintf("price not right aligned (x %.2f)", x))
	}

	if y := box.MinY() / size.Height; y > 0.3 && y < 0.7 {
		s.add("position", 0.15, "inside item band (+0.15)")
	} else {
		s.Breakdown["position"] = 0
		s.Reasons = append(s.Reasons, fmt.Sprintf("outside item band (y %.2f)", y))
	}

	s.add("exclusion_penalty", -exclusion*0.4, fmt.Sprintf("exclusion penalty (-%.2f)", exclusion*0.4))
	if exclusion == 0 {
		s.add("no_exclusion", 0.1, "no metadata signals (+0.1)")
	}

	switch {
	case !money.InPriceRange(price.Amount):
		s.Reasons = append(s.Reasons, "price out of range "+price.Amount.String())
	case !total.Valid:
		s.add("price_magnitude", 0.1, "price in range, no total yet (+0.1)")
	case price.Amount.LessThan(total.Decimal.Mul(two)):
		s.add("price_magnitude", 0.15, "price below twice the total (+0.15)")
	default:
		s.Reasons = append(s.Reasons, "price larger than twice the total")
	}

	switch {
	case confidence > 0.7:
		s.add("confidence", 0.05, "high confidence (+0.05)")
	case confidence > 0.5:
		s.add("confidence", 0.02, "medium confidence (+0.02)")
	default:
		s.Reasons = append(s.Reasons, "low confidence")
	}

	s.Value = clamp(s.Value)
	return s
}

// clamp bounds v to [0,1] and drops float noise so thresholds compare exactly.
func clamp(v float64) float64 {
	v = math.Round(v*1e6) / 1e6
	return math.Max(0, math.Min(1, v))
}
