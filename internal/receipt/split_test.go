package receipt

import (
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func assigned(item Item, people ...[]string) Item {
	item.UnitAssignments = people
	return item
}

func finalSum(splits []PersonSplit) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range splits {
		sum = sum.Add(s.FinalAmount)
	}
	return sum
}

var _ = Describe("CalculateSplits", func() {
	var (
		alice, bob, carol Person
		receipt           *Receipt
		splits            []PersonSplit
	)

	BeforeEach(func() {
		alice = Person{ID: "p1", Name: "Alice"}
		bob = Person{ID: "p2", Name: "Bob"}
		carol = Person{ID: "p3", Name: "Carol"}
	})

	JustBeforeEach(func() {
		splits = CalculateSplits(receipt)
	})

	When("two people share every unit with VAT and service", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items: []Item{
					assigned(NewItem("i1", "Mixed grill", dec("60.00"), 1), []string{"p1", "p2"}),
					assigned(NewItem("i2", "Wine", dec("20.00"), 2), []string{"p1", "p2"}, []string{"p2", "p1"}),
				},
				People:            []Person{bob, alice},
				Subtotal:          dec("100"),
				VATPercentage:     dec("14"),
				ServicePercentage: dec("12"),
				Total:             dec("126"),
			}
		})

		It("should give each person exactly 63.00", func() {
			Expect(splits).To(HaveLen(2))
			for _, s := range splits {
				Expect(s.ItemTotal.Equal(dec("50"))).To(BeTrue())
				Expect(s.VATShare.Equal(dec("7"))).To(BeTrue())
				Expect(s.ServiceShare.Equal(dec("6"))).To(BeTrue())
				Expect(s.FinalAmount.Equal(dec("63"))).To(BeTrue())
			}
		})

		It("should sort the splits by name", func() {
			Expect(splits[0].Person.Name).To(Equal("Alice"))
			Expect(splits[1].Person.Name).To(Equal("Bob"))
		})

		It("should record a single-unit copy for every shared unit", func() {
			Expect(splits[0].Items).To(HaveLen(3))
			for _, item := range splits[0].Items {
				Expect(item.Quantity).To(Equal(1))
				Expect(item.UnitAssignments).To(HaveLen(1))
			}
		})

		It("should not touch the receipt's assignments", func() {
			Expect(receipt.Items[1].UnitAssignments).To(Equal([][]string{{"p1", "p2"}, {"p2", "p1"}}))
		})
	})

	When("three people split an amount that does not divide evenly", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items:    []Item{assigned(NewItem("i1", "Cake", dec("10.00"), 1), []string{"p1", "p2", "p3"})},
				People:   []Person{carol, bob, alice},
				Subtotal: dec("10.00"),
				Total:    dec("10.00"),
			}
		})

		It("should add the missing cent to the first person by name", func() {
			Expect(splits[0].Person.Name).To(Equal("Alice"))
			Expect(splits[0].FinalAmount.Equal(dec("3.34"))).To(BeTrue())
			Expect(splits[1].FinalAmount.Equal(dec("3.33"))).To(BeTrue())
			Expect(splits[2].FinalAmount.Equal(dec("3.33"))).To(BeTrue())
		})

		It("should add up to the receipt total", func() {
			Expect(finalSum(splits).Equal(dec("10.00"))).To(BeTrue())
		})
	})

	When("one person pays more than the others", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items: []Item{
					assigned(NewItem("i1", "Steak", dec("29.99"), 1), []string{"p3"}),
					assigned(NewItem("i2", "Salad", dec("9.99"), 1), []string{"p1"}),
					assigned(NewItem("i3", "Soup", dec("7.49"), 1), []string{"p2"}),
				},
				People:            []Person{alice, bob, carol},
				Subtotal:          dec("47.47"),
				VATPercentage:     dec("14"),
				ServicePercentage: dec("12"),
				Total:             dec("59.80"),
			}
		})

		It("should give the rounding difference to the largest share", func() {
			Expect(finalSum(splits).Equal(dec("59.80"))).To(BeTrue())
			Expect(splits[0].FinalAmount.Equal(dec("12.59"))).To(BeTrue())
			Expect(splits[1].FinalAmount.Equal(dec("9.44"))).To(BeTrue())
			Expect(splits[2].FinalAmount.Equal(dec("37.77"))).To(BeTrue())
		})
	})

	DescribeTable("the final amounts always add up to the total",
		func(subtotal, vat, service string, prices []string, people [][]string) {
			r := &Receipt{
				People:            []Person{alice, bob, carol},
				VATPercentage:     dec(vat),
				ServicePercentage: dec(service),
			}
			for i, p := range prices {
				r.Items = append(r.Items, assigned(NewItem(string(rune('a'+i)), "Item", dec(p), 1), people[i]))
			}
			r.Recalculate()
			Expect(r.Subtotal.Equal(dec(subtotal))).To(BeTrue())

			Expect(finalSum(CalculateSplits(r)).Equal(r.Total)).To(BeTrue())
		},
		Entry("thirds with odd rates", "10.00", "14", "12.5",
			[]string{"10.00"}, [][]string{{"p1", "p2", "p3"}}),
		Entry("uneven items", "33.33", "7", "10",
			[]string{"11.11", "11.11", "11.11"}, [][]string{{"p1"}, {"p2", "p3"}, {"p1", "p2", "p3"}}),
		Entry("fractional rates", "0.07", "13.5", "9.75",
			[]string{"0.01", "0.03", "0.03"}, [][]string{{"p1"}, {"p2"}, {"p3"}}),
		Entry("large bill", "9999.97", "19", "15",
			[]string{"3333.33", "3333.33", "3333.31"}, [][]string{{"p1", "p2"}, {"p2", "p3"}, {"p3", "p1"}}),
	)

	When("the subtotal is zero", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items:             []Item{assigned(NewItem("i1", "Refill", dec("2.50"), 1), []string{"p1"})},
				People:            []Person{alice},
				VATPercentage:     dec("14"),
				ServicePercentage: dec("12"),
			}
		})

		It("should return item totals without shares", func() {
			Expect(splits).To(HaveLen(1))
			Expect(splits[0].VATShare.IsZero()).To(BeTrue())
			Expect(splits[0].ServiceShare.IsZero()).To(BeTrue())
			Expect(splits[0].FinalAmount.Equal(dec("2.50"))).To(BeTrue())
		})
	})

	When("there are no people", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items:    []Item{NewItem("i1", "Burger", dec("12.50"), 1)},
				Subtotal: dec("12.50"),
				Total:    dec("12.50"),
			}
		})

		It("should return no splits", func() {
			Expect(splits).To(BeEmpty())
		})
	})

	When("some units are unassigned or name unknown people", func() {
		BeforeEach(func() {
			receipt = &Receipt{
				Items: []Item{
					assigned(NewItem("i1", "Beer", dec("5.00"), 2), []string{"p1"}, []string{}),
					assigned(NewItem("i2", "Nachos", dec("8.00"), 1), []string{"ghost", "p1"}),
				},
				People:   []Person{alice},
				Subtotal: dec("18.00"),
				Total:    dec("18.00"),
			}
		})

		It("should skip them without failing", func() {
			Expect(splits).To(HaveLen(1))
			Expect(splits[0].ItemTotal.Equal(dec("9"))).To(BeTrue())
		})
	})
})

var _ = Describe("ValidateAssignments", func() {
	It("should be true when every unit has someone", func() {
		r := &Receipt{Items: []Item{assigned(NewItem("i1", "Wine", dec("20"), 2), []string{"p1"}, []string{"p1", "p2"})}}
		Expect(ValidateAssignments(r)).To(BeTrue())
	})

	It("should be false when a unit is empty", func() {
		r := &Receipt{Items: []Item{assigned(NewItem("i1", "Wine", dec("20"), 2), []string{"p1"}, []string{})}}
		Expect(ValidateAssignments(r)).To(BeFalse())
	})

	It("should be false when slots are missing", func() {
		r := &Receipt{Items: []Item{{ID: "i1", Name: "Wine", UnitPrice: dec("20"), Quantity: 2}}}
		Expect(ValidateAssignments(r)).To(BeFalse())
	})

	It("should be true for a receipt without items", func() {
		Expect(ValidateAssignments(&Receipt{})).To(BeTrue())
	})
})
