// Package money extracts and formats monetary amounts found in recognized
// receipt text. All values are exact decimals.
package money

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// usPattern matches "$1,234.56", "25.50", "1 250.00" and bare integers.
	usPattern = regexp.MustCompile(`\$?(\d+(?:[, ]\d{3})*(?:\.\d{2})?)`)

	// euroPattern matches "25,50", "1.250,00" and "1 250,00".
	euroPattern = regexp.MustCompile(`\d+(?:[. ]\d{3})*,\d{2}`)

	percentPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s?%`)

	usSeparators   = strings.NewReplacer(",", "", " ", "")
	euroSeparators = strings.NewReplacer(".", "", " ", "")
)

var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromInt(10000)
	hundred  = decimal.NewFromInt(100)
)

// Match is an amount together with the byte offsets of the text it came from.
type Match struct {
	Amount decimal.Decimal
	Start  int
	End    int
}

// ExtractAmount returns the first positive amount in text. Period-decimal
// amounts are tried first, then comma-decimal ones, and finally every digit
// in the line is concatenated and read as cents.
func ExtractAmount(text string) (decimal.Decimal, bool) {
	for _, m := range usMatches(text) {
		if m.Amount.IsPositive() {
			return m.Amount, true
		}
	}
	for _, m := range euroMatches(text) {
		if m.Amount.IsPositive() {
			return m.Amount, true
		}
	}

	digits := onlyDigits(text)
	if digits == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(digits)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d.Div(hundred), true
}

// ExtractAllAmounts returns every positive amount in text in reading order.
// Matches never overlap.
func ExtractAllAmounts(text string) []decimal.Decimal {
	matches := AllMatches(text)
	amounts := make([]decimal.Decimal, 0, len(matches))
	for _, m := range matches {
		amounts = append(amounts, m.Amount)
	}
	return amounts
}

// AllMatches is ExtractAllAmounts with source offsets.
func AllMatches(text string) []Match {
	var out []Match
	for _, m := range usMatches(text) {
		if m.Amount.IsPositive() {
			out = append(out, m)
		}
	}
	for _, m := range euroMatches(text) {
		if m.Amount.IsPositive() {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// LastAmount returns the right-most positive price token in text, preferring
// period-decimal tokens over comma-decimal ones.
func LastAmount(text string) (Match, bool) {
	for _, matches := range [][]Match{usMatches(text), euroMatches(text)} {
		for i := len(matches) - 1; i >= 0; i-- {
			if matches[i].Amount.IsPositive() {
				return matches[i], true
			}
		}
	}
	return Match{}, false
}

// HasPrice reports whether text contains at least one amount.
func HasPrice(text string) bool {
	return len(AllMatches(text)) > 0
}

// ExtractPercentage returns the first "N%" or "N.N%" value in text.
func ExtractPercentage(text string) (decimal.Decimal, bool) {
	m := percentPattern.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// InPriceRange reports whether d lies within [0.01, 10000].
func InPriceRange(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(minPrice) && d.LessThanOrEqual(maxPrice)
}

// Round rounds to cents, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatCurrency renders d as "$1,234.56".
func FormatCurrency(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func euroMatches(text string) []Match {
	var out []Match
	for _, loc := range euroPattern.FindAllStringIndex(text, -1) {
		// "1,250.00" must not be read as 1.25
		if loc[1] < len(text) && (isDigit(text[loc[1]]) || text[loc[1]] == '.') {
			continue
		}
		raw := euroSeparators.Replace(text[loc[0]:loc[1]])
		d, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
		if err != nil {
			continue
		}
		out = append(out, Match{Amount: d, Start: loc[0], End: loc[1]})
	}
	return out
}

func usMatches(text string) []Match {
	euro := euroMatches(text)
	var out []Match
	for _, loc := range usPattern.FindAllStringSubmatchIndex(text, -1) {
		// skips both halves of "12,50"
		if overlaps(loc[0], loc[1], euro) {
			continue
		}
		d, err := decimal.NewFromString(usSeparators.Replace(text[loc[2]:loc[3]]))
		if err != nil {
			continue
		}
		out = append(out, Match{Amount: d, Start: loc[0], End: loc[1]})
	}
	return out
}

func overlaps(start, end int, spans []Match) bool {
	for _, s := range spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
