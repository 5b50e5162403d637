package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Classification is the final role of a line on the receipt.
type Classification string

const (
	None     Classification = ""
	LineItem Classification = "lineItem"
	Subtotal Classification = "subtotal"
	Tax      Classification = "tax"
	Service  Classification = "service"
	Total    Classification = "total"
)

var (
	datePattern       = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
	tablePattern      = regexp.MustCompile(`(?i)(table|tab|tbl)\s*:?\s*\d+`)
	orderPattern      = regexp.MustCompile(`(?i)(order|ord)\s*:?\s*\d+`)
	onlyNumbers       = regexp.MustCompile(`^[\d\s/:\-.,]+$`)
	cleanPrice        = regexp.MustCompile(`^\$?\d+(?:[,. ]\d{3})*[.,]\d{2}$`)
	timePattern       = regexp.MustCompile(`(?i)\d{1,2}:\d{2}(:\d{2})?\s*(am|pm)?`)
	phonePattern      = regexp.MustCompile(`[\d\s\-()]{10,}`)
	serverPattern     = regexp.MustCompile(`(?i)\b(waiter|waitress|server|cashier|served by)\b`)
	taxIDPattern      = regexp.MustCompile(`(?i)\b(tax id|ein|tax number|vat number|vat no)\b`)
	subtotalSpelling  = regexp.MustCompile(`(?i)sub[\s-]+total`)
	restaurantWords   = []string{"restaurant", "cafe", "bar", "grill", "bistro", "diner", "eatery", "kitchen"}
	invoiceKeywords   = []string{"invoice", "receipt", "bill #", "receipt #", "invoice #", "order #", "order number", "reference"}
	metadataNamePatts = []*regexp.Regexp{tablePattern, orderPattern, datePattern, regexp.MustCompile(`^\d+$`)}
)

// Exclusion is the verdict on whether a line is non-item metadata.
type Exclusion struct {
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
	Excluded bool    `json:"excluded"`
}

func hard(reason string) Exclusion {
	return Exclusion{Score: 1, Reason: reason, Excluded: true}
}

// exclusion scores text as metadata. elev is the line's elevation; lines in
// the header band are excluded outright. Soft signals take the maximum of
// their weights and the line is excluded once that crosses the threshold.
func (p *Parser) exclusion(text string, elev float64) Exclusion {
	if elev > p.cfg.HeaderThreshold {
		return hard("header region")
	}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	length := utf8.RuneCountInString(trimmed)

	if m := datePattern.FindString(trimmed); m != "" && length <= 2*len(m) {
		return hard("line is primarily a date")
	}
	if tablePattern.MatchString(trimmed) {
		return hard("table number")
	}
	if orderPattern.MatchString(trimmed) {
		return hard("order number")
	}
	if onlyNumbers.MatchString(trimmed) {
		if !(cleanPrice.MatchString(trimmed) && length <= 15) {
			return hard("only numbers and separators")
		}
	}

	var ex Exclusion
	raise := func(score float64, reason string) {
		if score > ex.Score {
			ex.Score = score
			ex.Reason = reason
		}
	}

	if fields := strings.Fields(lower); len(fields) > 0 {
		first := strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) })
		for _, w := range restaurantWords {
			if first == w {
				raise(0.8, "restaurant name keyword")
				break
			}
		}
	}
	if serverPattern.MatchString(lower) {
		raise(0.8, "waiter or server keyword")
	}
	if m := timePattern.FindString(trimmed); m != "" && length <= len(m)+3 {
		raise(0.9, "line is primarily a time")
	}
	for _, kw := range invoiceKeywords {
		if strings.Contains(lower, kw) {
			raise(0.8, "invoice or receipt number")
			break
		}
	}
	if m := phonePattern.FindString(trimmed); m != "" && countDigits(m) >= 10 {
		raise(0.9, "phone number")
	}
	if taxIDPattern.MatchString(lower) {
		raise(0.8, "tax id")
	}

	ex.Excluded = ex.Score > p.cfg.ExclusionThreshold
	return ex
}

// totalsKind reports which totals line text is, if any. Checks run in
// priority order and a match means the line can never be an item.
func totalsKind(text string) Classification {
	lower := subtotalSpelling.ReplaceAllString(strings.ToLower(text), "subtotal")
	switch {
	case strings.Contains(lower, "total") && !strings.Contains(lower, "subtotal"):
		return Total
	case strings.Contains(lower, "subtotal"):
		return Subtotal
	case strings.Contains(lower, "tax") || strings.Contains(lower, "vat"):
		return Tax
	case strings.Contains(lower, "service") || strings.Contains(lower, "tip") || strings.Contains(lower, "gratuity"):
		return Service
	case strings.Contains(lower, "amount due"):
		return Total
	}
	return None
}

// looksLikeMetadataName is the post-parse check applied to item names.
func looksLikeMetadataName(name string) bool {
	for _, re := range metadataNamePatts {
		if re.MatchString(name) {
			return true
		}
	}
	return countLetters(name) < 3
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
