package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
)

// Item is a purchased line parsed from the receipt.
type Item struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	// Uncertain marks items admitted from the review band.
	Uncertain bool `json:"uncertain,omitempty"`
}

// TotalPrice is UnitPrice times Quantity.
func (i Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

const (
	minQuantity = 1
	maxQuantity = 999
)

var (
	quantityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)x(\d+)`),
		regexp.MustCompile(`(?i)(\d+)x`),
		regexp.MustCompile(`(?i)qty[:\s]*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)[×x]`),
	}
	metadataKeyword = regexp.MustCompile(`(?i)\b(table|tab|tbl|order|ord|seat)\b`)
	roundCeiling    = decimal.NewFromInt(200)
)

// parseItem extracts name, price and quantity from a line. The price is the
// last price token and the name is everything before it.
func parseItem(text string) (Item, bool) {
	trimmed := strings.TrimSpace(text)

	price, ok := money.LastAmount(trimmed)
	if !ok {
		return Item{}, false
	}

	prefix := trimmed[:price.Start]
	quantity := 1
	for _, re := range quantityPatterns {
		loc := re.FindStringSubmatchIndex(trimmed)
		if loc == nil {
			continue
		}
		q, err := strconv.Atoi(trimmed[loc[2]:loc[3]])
		if err != nil {
			return Item{}, false
		}
		quantity = q
		if loc[1] <= len(prefix) {
			prefix = prefix[:loc[0]] + " " + prefix[loc[1]:]
		}
		break
	}

	name := strings.TrimRight(strings.Join(strings.Fields(prefix), " "), " $:-@*")

	if countLetters(name) < 3 {
		return Item{}, false
	}
	if quantity < minQuantity || quantity > maxQuantity {
		return Item{}, false
	}

	unit := price.Amount.Div(decimal.NewFromInt(int64(quantity)))
	if !money.InPriceRange(unit) {
		return Item{}, false
	}

	if price.Amount.LessThan(roundCeiling) && price.Amount.IsInteger() && metadataKeyword.MatchString(name) {
		return Item{}, false
	}

	return Item{Name: name, UnitPrice: unit, Quantity: quantity}, true
}
