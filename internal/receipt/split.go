package receipt

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
)

// PersonSplit is what one person owes. It is always derived from the
// receipt and never stored.
type PersonSplit struct {
	Person       Person          `json:"person"`
	ItemTotal    decimal.Decimal `json:"item_total"`
	VATShare     decimal.Decimal `json:"vat_share"`
	ServiceShare decimal.Decimal `json:"service_share"`
	FinalAmount  decimal.Decimal `json:"final_amount"`
	// Items has a quantity-1 copy of the item for every unit the person shares.
	Items []Item `json:"items"`
}

// CalculateSplits divides the receipt between its people. Unit costs are
// shared equally by the people assigned to the unit, VAT and service are
// shared in proportion to item totals, and any rounding difference against
// the receipt total goes to the person paying the most (the first by name
// when several pay the same). Splits are sorted by name.
func CalculateSplits(r *Receipt) []PersonSplit {
	splits := make([]PersonSplit, len(r.People))
	index := make(map[string]int, len(r.People))
	for i, p := range r.People {
		splits[i] = PersonSplit{Person: p, Items: []Item{}}
		index[p.ID] = i
	}

	for _, item := range r.Items {
		item.UnitAssignments = append([][]string(nil), item.UnitAssignments...)
		item.EnsureUnitAssignmentsCount()

		for _, assigned := range item.UnitAssignments {
			if len(assigned) == 0 {
				continue
			}
			share := item.UnitPrice.Div(decimal.NewFromInt(int64(len(assigned))))
			for _, personID := range assigned {
				i, ok := index[personID]
				if !ok {
					continue
				}
				splits[i].ItemTotal = splits[i].ItemTotal.Add(share)
				unit := item
				unit.Quantity = 1
				unit.UnitAssignments = [][]string{append([]string(nil), assigned...)}
				splits[i].Items = append(splits[i].Items, unit)
			}
		}
	}

	sort.SliceStable(splits, func(i, j int) bool { return splits[i].Person.Name < splits[j].Person.Name })

	if !r.Subtotal.IsPositive() {
		for i := range splits {
			splits[i].FinalAmount = money.Round(splits[i].ItemTotal)
		}
		return splits
	}

	vat, service := r.VATAmount(), r.ServiceAmount()
	grand := decimal.Zero
	for i := range splits {
		s := &splits[i]
		s.VATShare = money.Round(vat.Mul(s.ItemTotal).Div(r.Subtotal))
		s.ServiceShare = money.Round(service.Mul(s.ItemTotal).Div(r.Subtotal))
		s.FinalAmount = money.Round(s.ItemTotal.Add(s.VATShare).Add(s.ServiceShare))
		grand = grand.Add(s.FinalAmount)
	}

	if diff := money.Round(r.Total).Sub(grand); !diff.IsZero() && len(splits) > 0 {
		largest := 0
		for i := range splits {
			if splits[i].FinalAmount.GreaterThan(splits[largest].FinalAmount) {
				largest = i
			}
		}
		splits[largest].FinalAmount = splits[largest].FinalAmount.Add(diff)
	}

	return splits
}

// ValidateAssignments reports whether every unit of every item has at least
// one person assigned.
func ValidateAssignments(r *Receipt) bool {
	for _, item := range r.Items {
		for unit := 0; unit < item.Quantity; unit++ {
			if unit >= len(item.UnitAssignments) || len(item.UnitAssignments[unit]) == 0 {
				return false
			}
		}
	}
	return true
}
