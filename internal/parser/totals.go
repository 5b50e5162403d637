package parser

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
)

// Source records where a resolved total or subtotal came from.
type Source string

const (
	SourceNone       Source = ""
	SourceKeyword    Source = "keyword"
	SourceFooter     Source = "footer"
	SourceItems      Source = "items"
	SourceCalculated Source = "calculated"
)

var (
	percentToken = regexp.MustCompile(`\d+(?:[.,]\d+)?\s?%`)
	hundred      = decimal.NewFromInt(100)
	footerFloor  = decimal.NewFromInt(1)
	footerCeil   = decimal.NewFromInt(10000)
)

// totals accumulates the receipt-level amounts while the pipeline runs.
type totals struct {
	subtotal       decimal.NullDecimal
	subtotalSource Source
	total          decimal.NullDecimal
	totalSource    Source
	totalReason    string
	vat            decimal.NullDecimal
	service        decimal.NullDecimal
	taxAmount      decimal.NullDecimal
	serviceAmount  decimal.NullDecimal
	confidence     float64
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// lineAmount is the amount on a subtotal or total line, ignoring any
// percentage printed next to it.
func lineAmount(text string) (decimal.Decimal, bool) {
	return money.ExtractAmount(percentToken.ReplaceAllString(text, " "))
}

// carriesValue reports whether a totals line yields something usable.
func (p *Parser) carriesValue(kind Classification, text string) bool {
	switch kind {
	case Total, Subtotal:
		_, ok := lineAmount(text)
		return ok
	case Tax, Service:
		if _, ok := money.ExtractPercentage(text); ok {
			return true
		}
		if p.cfg.DerivePercentages {
			_, ok := lineAmount(text)
			return ok
		}
	}
	return false
}

// scanKeywords fills totals from keyword lines. The first line of each kind
// with a usable value wins.
func (p *Parser) scanKeywords(lines []line, size Size) totals {
	var t totals
	for _, l := range lines {
		kind := totalsKind(l.Text)
		switch kind {
		case Total:
			if a, ok := lineAmount(l.Text); ok && !t.total.Valid {
				t.total, t.totalSource = valid(a), SourceKeyword
				t.totalReason = fmt.Sprintf("keyword line %q", l.Text)
			}
		case Subtotal:
			if a, ok := lineAmount(l.Text); ok && !t.subtotal.Valid {
				t.subtotal, t.subtotalSource = valid(a), SourceKeyword
			}
		case Tax, Service:
			pct, amt := &t.vat, &t.taxAmount
			if kind == Service {
				pct, amt = &t.service, &t.serviceAmount
			}
			if v, ok := money.ExtractPercentage(l.Text); ok {
				if !pct.Valid {
					*pct = valid(v)
				}
				continue
			}
			if !p.cfg.DerivePercentages || amt.Valid {
				continue
			}
			// header lines such as "VAT number 123456" carry no amount
			if p.exclusion(l.Text, elevation(l.Box, size)).Excluded {
				continue
			}
			if a, ok := lineAmount(l.Text); ok && money.InPriceRange(a) {
				*amt = valid(a)
			}
		}
	}
	return t
}

type totalCandidate struct {
	amount     decimal.Decimal
	elevation  float64
	hasKeyword bool
	text       string
}

// footerTotal picks the most plausible grand total among amounts printed
// near the bottom of the receipt, or anywhere if the footer has none.
func (p *Parser) footerTotal(lines []line, size Size) (decimal.Decimal, float64, string, bool) {
	collect := func(inFooter bool) []totalCandidate {
		var out []totalCandidate
		for _, l := range lines {
			elev := elevation(l.Box, size)
			if inFooter && elev > p.cfg.FooterBand {
				continue
			}
			for _, a := range money.ExtractAllAmounts(l.Text) {
				if a.GreaterThanOrEqual(footerFloor) && a.LessThan(footerCeil) {
					out = append(out, totalCandidate{
						amount:     a,
						elevation:  elev,
						hasKeyword: totalsKind(l.Text) != None,
						text:       l.Text,
					})
				}
			}
		}
		return out
	}

	candidates := collect(true)
	if len(candidates) == 0 {
		candidates = collect(false)
	}
	if len(candidates) == 0 {
		return decimal.Zero, 0, "", false
	}

	largest := candidates[0].amount
	for _, c := range candidates[1:] {
		largest = decimal.Max(largest, c.amount)
	}

	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score := 0.3*(1-c.elevation) + 0.4*c.amount.Div(largest).InexactFloat64()
		if c.hasKeyword {
			score += 0.3
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}

	c := candidates[best]
	if c.hasKeyword {
		return c.amount, 0.9, fmt.Sprintf("footer line with keyword %q", c.text), true
	}
	return c.amount, 0.7, fmt.Sprintf("largest footer amount %q", c.text), true
}

// calculatedTotal is subtotal plus VAT and service at their percentages.
func calculatedTotal(subtotal decimal.Decimal, vat, service decimal.NullDecimal) decimal.Decimal {
	total := subtotal
	if vat.Valid {
		total = total.Add(subtotal.Mul(vat.Decimal).Div(hundred))
	}
	if service.Valid {
		total = total.Add(subtotal.Mul(service.Decimal).Div(hundred))
	}
	return total
}

// reconcile checks the extracted total against the calculated one and keeps
// or replaces it depending on how far apart they are.
func (p *Parser) reconcile(t *totals) (warning string) {
	calc := money.Round(calculatedTotal(t.subtotal.Decimal, t.vat, t.service))

	if !t.total.Valid {
		t.total, t.totalSource, t.confidence = valid(calc), SourceCalculated, 0.85
		return ""
	}

	extracted := t.total.Decimal
	diff := calc.Sub(extracted).Abs()
	switch {
	case diff.LessThanOrEqual(extracted.Mul(decimal.NewFromFloat(p.cfg.ConsistentTolerance))):
		t.confidence = 0.95
	case diff.LessThanOrEqual(extracted.Mul(decimal.NewFromFloat(p.cfg.WarnTolerance))):
		t.confidence = 0.8
		warning = fmt.Sprintf("total %s differs from calculated %s", extracted, calc)
		p.logger.Warn("Totals disagree within tolerance", "extracted", extracted, "calculated", calc)
	default:
		warning = fmt.Sprintf("total %s replaced by calculated %s", extracted, calc)
		p.logger.Warn("Totals disagree, using calculated total", "extracted", extracted, "calculated", calc)
		t.total, t.totalSource, t.confidence = valid(calc), SourceCalculated, 0.7
	}
	return warning
}
