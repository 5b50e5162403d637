// Package parser turns recognized receipt text into items and totals.
//
// Parse is a pure function of its input: the same observations always give
// the same result, and a Parser holds no state between calls.
package parser

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
)

var (
	ErrNoObservations   = errors.New("no text observations")
	ErrInvalidImageSize = errors.New("invalid image size")
)

// ClassifiedBox marks a region of the image with the role of its text.
type ClassifiedBox struct {
	Box            Rect           `json:"box"`
	Text           string         `json:"text"`
	Classification Classification `json:"classification"`
}

// ClassifiedLine is the full verdict on one (possibly merged) line.
type ClassifiedLine struct {
	Text           string         `json:"text"`
	Confidence     float64        `json:"confidence"`
	Box            Rect           `json:"box"`
	Zone           ZoneKind       `json:"zone,omitempty"`
	GroupedWith    string         `json:"grouped_with,omitempty"`
	PriceDetected  bool           `json:"price_detected"`
	Exclusion      Exclusion      `json:"exclusion"`
	TotalsKind     Classification `json:"totals_kind,omitempty"`
	Score          *Score         `json:"score,omitempty"`
	FinalScore     float64        `json:"final_score"`
	Uncertain      bool           `json:"uncertain,omitempty"`
	Misaligned     bool           `json:"misaligned,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Reason         string         `json:"reason,omitempty"`

	item int
}

// Diagnostics explains how a result was reached.
type Diagnostics struct {
	Profile              string           `json:"profile"`
	ImageSize            Size             `json:"image_size"`
	Observations         int              `json:"observations"`
	LowConfidenceDropped int              `json:"low_confidence_dropped"`
	Zones                []Zone           `json:"zones"`
	PriceColumn          *ColumnAlignment `json:"price_column,omitempty"`
	Lines                []ClassifiedLine `json:"lines"`
	ParsedItems          int              `json:"parsed_items"`
	ValidItems           int              `json:"valid_items"`
	SubtotalSource       Source           `json:"subtotal_source"`
	TotalSource          Source           `json:"total_source"`
	TotalReason          string           `json:"total_reason,omitempty"`
	RecognitionQuality   float64          `json:"recognition_quality"`
	Warnings             []string         `json:"warnings,omitempty"`
}

// Result is a parsed receipt. Amount fields are invalid when unknown.
type Result struct {
	Items             []Item              `json:"items"`
	Subtotal          decimal.NullDecimal `json:"subtotal"`
	VATPercentage     decimal.NullDecimal `json:"vat_percentage"`
	ServicePercentage decimal.NullDecimal `json:"service_percentage"`
	Total             decimal.NullDecimal `json:"total"`
	TotalConfidence   float64             `json:"total_confidence"`
	Confidence        float64             `json:"confidence"`
	Boxes             []ClassifiedBox     `json:"boxes"`
	// NothingDetected is set when no item, total or subtotal was found.
	NothingDetected bool         `json:"nothing_detected"`
	Diagnostics     *Diagnostics `json:"diagnostics,omitempty"`
}

// Parser runs the receipt interpretation pipeline.
type Parser struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for validation and totals warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// New creates a Parser with the given thresholds.
func New(cfg Config, opts ...Option) *Parser {
	p := &Parser{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the parser's thresholds.
func (p *Parser) Config() Config {
	return p.cfg
}

// Parse interprets observations recognized on an image of the given size.
func (p *Parser) Parse(observations []Observation, size Size) (*Result, error) {
	if len(observations) == 0 {
		return nil, ErrNoObservations
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: %vx%v", ErrInvalidImageSize, size.Width, size.Height)
	}

	kept := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if o.Confidence >= p.cfg.MinConfidence {
			kept = append(kept, o)
		}
	}

	diag := &Diagnostics{
		Profile:              p.cfg.Profile,
		ImageSize:            size,
		Observations:         len(observations),
		LowConfidenceDropped: len(observations) - len(kept),
		RecognitionQuality:   recognitionQuality(kept, size),
	}
	result := &Result{Items: []Item{}, Boxes: []ClassifiedBox{}}
	if p.cfg.Diagnostics {
		result.Diagnostics = diag
	}
	if len(kept) == 0 {
		result.NothingDetected = true
		return result, nil
	}

	diag.Zones = analyzeZones(kept, size)
	column := p.detectPriceColumn(kept, size)
	diag.PriceColumn = column

	lines := p.groupLines(linesFrom(kept), size, column)

	t := p.scanKeywords(lines, size)
	if !t.total.Valid {
		if amount, conf, reason, ok := p.footerTotal(lines, size); ok {
			t.total, t.totalSource, t.totalReason = valid(amount), SourceFooter, reason
			p.logger.Debug("Total detected without keyword", "amount", amount, "confidence", conf, "reason", reason)
		}
	}
	extractedTotal := t.total.Valid

	var items []Item
	classified := make([]ClassifiedLine, 0, len(lines))
	for _, l := range lines {
		cl := p.classifyLine(l, size, diag.Zones, column, t.total)
		if cl.Classification == LineItem {
			item, _ := parseItem(l.Text)
			item.Uncertain = cl.Uncertain
			cl.item = len(items)
			items = append(items, item)
		}
		classified = append(classified, cl)
	}

	keep := p.validateItems(items)
	for i := range classified {
		if classified[i].Classification == LineItem && !keep[classified[i].item] {
			classified[i].Classification = None
			classified[i].Reason = "dropped by validation"
		}
	}
	for i, item := range items {
		if keep[i] {
			result.Items = append(result.Items, item)
		}
	}
	diag.ParsedItems, diag.ValidItems = len(items), len(result.Items)
	diag.Lines = classified
	if len(result.Items) < 2 {
		diag.Warnings = append(diag.Warnings, fmt.Sprintf("only %d item(s) extracted", len(result.Items)))
	}

	if len(result.Items) == 0 && !extractedTotal && !t.subtotal.Valid {
		result.NothingDetected = true
		return result, nil
	}

	if !t.subtotal.Valid {
		sum := decimal.Zero
		for _, item := range result.Items {
			sum = sum.Add(item.TotalPrice())
		}
		t.subtotal, t.subtotalSource = valid(money.Round(sum)), SourceItems
	}
	p.derivePercentages(&t)
	if w := p.reconcile(&t); w != "" {
		diag.Warnings = append(diag.Warnings, w)
	}

	result.Subtotal = t.subtotal
	result.VATPercentage = t.vat
	result.ServicePercentage = t.service
	result.Total = t.total
	result.TotalConfidence = t.confidence
	result.Confidence = overallConfidence(len(items), len(result.Items), t.confidence)
	for _, cl := range classified {
		if cl.Classification != None {
			result.Boxes = append(result.Boxes, ClassifiedBox{Box: cl.Box, Text: cl.Text, Classification: cl.Classification})
		}
	}
	diag.SubtotalSource, diag.TotalSource, diag.TotalReason = t.subtotalSource, t.totalSource, t.totalReason

	return result, nil
}

// classifyLine runs exclusion, the totals override and item scoring on one line.
func (p *Parser) classifyLine(l line, size Size, zones []Zone, column *ColumnAlignment, total decimal.NullDecimal) ClassifiedLine {
	cl := ClassifiedLine{
		Text:          l.Text,
		Confidence:    l.Confidence,
		Box:           l.Box,
		Zone:          zoneOf(zones, l.Box, size),
		GroupedWith:   l.GroupedWith,
		PriceDetected: money.HasPrice(l.Text),
	}

	cl.Exclusion = p.exclusion(l.Text, elevation(l.Box, size))
	if cl.Exclusion.Excluded {
		cl.Reason = "excluded: " + cl.Exclusion.Reason
		return cl
	}

	if kind := totalsKind(l.Text); kind != None {
		cl.TotalsKind = kind
		cl.Reason = "totals keyword: " + string(kind)
		if p.carriesValue(kind, l.Text) {
			cl.Classification = kind
		}
		return cl
	}

	score := scoreLine(l.Text, l.Box, l.PriceBox, size, total, l.Confidence, cl.Exclusion.Score)
	cl.Score = &score
	cl.FinalScore = score.Value
	if column != nil && cl.PriceDetected && !column.Aligned(l.PriceBox, size) {
		cl.Misaligned = true
		cl.FinalScore = clamp(cl.FinalScore - p.cfg.MisalignedPenalty)
	}

	accepted := cl.FinalScore >= p.cfg.AcceptThreshold
	cl.Uncertain = !accepted && cl.FinalScore >= p.cfg.UncertainThreshold
	if !accepted && !cl.Uncertain {
		cl.Reason = fmt.Sprintf("low item score %.2f", cl.FinalScore)
		return cl
	}
	if _, ok := parseItem(l.Text); !ok {
		cl.Reason = fmt.Sprintf("score %.2f but not parseable as an item", cl.FinalScore)
		return cl
	}
	cl.Classification = LineItem
	cl.Reason = fmt.Sprintf("line item, score %.2f", cl.FinalScore)
	return cl
}

// validateItems reports which parsed items survive the final sanity checks.
func (p *Parser) validateItems(items []Item) []bool {
	ok := make([]bool, len(items))
	for i, item := range items {
		switch {
		case !money.InPriceRange(item.UnitPrice) || item.Quantity < minQuantity || item.Quantity > maxQuantity:
			p.logger.Debug("Dropped implausible item", "name", item.Name, "unit_price", item.UnitPrice, "quantity", item.Quantity)
		case looksLikeMetadataName(item.Name):
			p.logger.Debug("Dropped metadata item", "name", item.Name)
		default:
			ok[i] = true
		}
	}
	return ok
}

// derivePercentages turns tax and service amounts into percentages of the
// subtotal when no explicit percentage was printed.
func (p *Parser) derivePercentages(t *totals) {
	if !p.cfg.DerivePercentages || !t.subtotal.Decimal.IsPositive() {
		return
	}
	if !t.vat.Valid && t.taxAmount.Valid {
		t.vat = valid(t.taxAmount.Decimal.Div(t.subtotal.Decimal).Mul(hundred).Round(4))
	}
	if !t.service.Valid && t.serviceAmount.Valid {
		t.service = valid(t.serviceAmount.Decimal.Div(t.subtotal.Decimal).Mul(hundred).Round(4))
	}
}

func overallConfidence(parsed, kept int, totalConfidence float64) float64 {
	countScore := float64(parsed) / 5
	if countScore > 1 {
		countScore = 1
	}
	denom := parsed
	if denom < 1 {
		denom = 1
	}
	return clamp(0.3*countScore + 0.4*totalConfidence + 0.3*float64(kept)/float64(denom))
}
