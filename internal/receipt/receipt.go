package receipt

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
	"github.com/zombor/tabsplit/internal/parser"
)

var hundred = decimal.NewFromInt(100)

// Person is someone sharing the bill
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a purchased line on a receipt
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	// UnitAssignments holds, for each physical unit, the IDs of the people
	// sharing it. Its length always equals Quantity.
	UnitAssignments [][]string `json:"unit_assignments"`
	Uncertain       bool       `json:"uncertain,omitempty"`
}

// NewItem creates an item with one empty assignment slot per unit
func NewItem(id, name string, unitPrice decimal.Decimal, quantity int) Item {
	item := Item{ID: id, Name: name, UnitPrice: unitPrice, Quantity: quantity}
	item.EnsureUnitAssignmentsCount()
	return item
}

// TotalPrice is UnitPrice times Quantity
func (i Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// EnsureUnitAssignmentsCount pads or truncates UnitAssignments to Quantity
func (i *Item) EnsureUnitAssignmentsCount() {
	n := max(i.Quantity, 0)
	if len(i.UnitAssignments) > n {
		i.UnitAssignments = i.UnitAssignments[:n]
	}
	for len(i.UnitAssignments) < n {
		i.UnitAssignments = append(i.UnitAssignments, []string{})
	}
}

// SetQuantity changes the quantity and resizes the assignment slots
func (i *Item) SetQuantity(q int) {
	i.Quantity = q
	i.EnsureUnitAssignmentsCount()
}

// AssignedTo reports whether personID shares the given unit
func (i Item) AssignedTo(unit int, personID string) bool {
	return unit >= 0 && unit < len(i.UnitAssignments) && slices.Contains(i.UnitAssignments[unit], personID)
}

// Receipt represents a scanned receipt and how it is being split
type Receipt struct {
	ID                string          `json:"id"`
	Items             []Item          `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	VATPercentage     decimal.Decimal `json:"vat_percentage"`
	ServicePercentage decimal.Decimal `json:"service_percentage"`
	Total             decimal.Decimal `json:"total"`
	Timestamp         time.Time       `json:"timestamp"`
	People            []Person        `json:"people"`

	Filename        string                 `json:"filename,omitempty"`
	ContentType     string                 `json:"content_type,omitempty"`
	TotalConfidence float64                `json:"total_confidence"`
	Confidence      float64                `json:"confidence"`
	Boxes           []parser.ClassifiedBox `json:"boxes,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// VATAmount is the subtotal times the VAT percentage
func (r *Receipt) VATAmount() decimal.Decimal {
	return r.Subtotal.Mul(r.VATPercentage).Div(hundred)
}

// ServiceAmount is the subtotal times the service percentage
func (r *Receipt) ServiceAmount() decimal.Decimal {
	return r.Subtotal.Mul(r.ServicePercentage).Div(hundred)
}

// CalculatedTotal is the subtotal plus VAT and service
func (r *Receipt) CalculatedTotal() decimal.Decimal {
	return r.Subtotal.Add(r.VATAmount()).Add(r.ServiceAmount())
}

// ItemsSubtotal sums the item totals, rounded to cents
func (r *Receipt) ItemsSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.Items {
		sum = sum.Add(item.TotalPrice())
	}
	return money.Round(sum)
}

// Recalculate sets the subtotal from the items and the total from the
// subtotal and rates. It is used after the user edits the receipt.
func (r *Receipt) Recalculate() {
	r.Subtotal = r.ItemsSubtotal()
	r.Total = money.Round(r.CalculatedTotal())
}

// Person looks up a person by ID
func (r *Receipt) Person(id string) (Person, bool) {
	for _, p := range r.People {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}

// Item looks up an item by ID and returns its index
func (r *Receipt) Item(id string) (int, bool) {
	for i, item := range r.Items {
		if item.ID == id {
			return i, true
		}
	}
	return -1, false
}
