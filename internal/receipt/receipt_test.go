package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Item", func() {
	Describe("EnsureUnitAssignmentsCount", func() {
		It("should keep one slot per unit through any quantity change", func() {
			item := NewItem("i1", "Beer", dec("5.00"), 2)
			Expect(item.UnitAssignments).To(HaveLen(2))

			for _, q := range []int{5, 1, 1, 3, 0, 4, 999, 2} {
				item.SetQuantity(q)
				Expect(item.UnitAssignments).To(HaveLen(q))
			}
		})

		It("should keep assignments of the remaining units", func() {
			item := assigned(NewItem("i1", "Beer", dec("5.00"), 3), []string{"p1"}, []string{"p2"}, []string{"p3"})
			item.SetQuantity(2)
			Expect(item.UnitAssignments).To(Equal([][]string{{"p1"}, {"p2"}}))
			item.SetQuantity(3)
			Expect(item.UnitAssignments).To(Equal([][]string{{"p1"}, {"p2"}, {}}))
		})

		It("should treat a negative quantity as no units", func() {
			item := Item{Quantity: -1, UnitAssignments: [][]string{{"p1"}}}
			item.EnsureUnitAssignmentsCount()
			Expect(item.UnitAssignments).To(BeEmpty())
		})
	})

	It("should multiply the unit price by the quantity", func() {
		Expect(NewItem("i1", "Beer", dec("4.25"), 3).TotalPrice().Equal(dec("12.75"))).To(BeTrue())
	})

	It("should report who shares a unit", func() {
		item := assigned(NewItem("i1", "Beer", dec("5.00"), 2), []string{"p1"}, []string{"p1", "p2"})
		Expect(item.AssignedTo(1, "p2")).To(BeTrue())
		Expect(item.AssignedTo(0, "p2")).To(BeFalse())
		Expect(item.AssignedTo(2, "p1")).To(BeFalse())
		Expect(item.AssignedTo(-1, "p1")).To(BeFalse())
	})
})

var _ = Describe("Receipt", func() {
	var receipt *Receipt

	BeforeEach(func() {
		receipt = &Receipt{
			Items: []Item{
				NewItem("i1", "Burger", dec("12.50"), 2),
				NewItem("i2", "Fries", dec("4.005"), 1),
			},
			People:            []Person{{ID: "p1", Name: "Alice"}},
			Subtotal:          dec("100"),
			VATPercentage:     dec("14"),
			ServicePercentage: dec("12"),
		}
	})

	It("should compute VAT and service amounts from the subtotal", func() {
		Expect(receipt.VATAmount().Equal(dec("14"))).To(BeTrue())
		Expect(receipt.ServiceAmount().Equal(dec("12"))).To(BeTrue())
		Expect(receipt.CalculatedTotal().Equal(dec("126"))).To(BeTrue())
	})

	It("should round the items subtotal to cents", func() {
		Expect(receipt.ItemsSubtotal().Equal(dec("29.01"))).To(BeTrue())
	})

	It("should recalculate the subtotal and total from the items", func() {
		receipt.Recalculate()
		Expect(receipt.Subtotal.Equal(dec("29.01"))).To(BeTrue())
		// 29.01 * 1.26 = 36.5526
		Expect(receipt.Total.Equal(dec("36.55"))).To(BeTrue())
	})

	It("should find people and items by ID", func() {
		p, ok := receipt.Person("p1")
		Expect(ok).To(BeTrue())
		Expect(p.Name).To(Equal("Alice"))
		_, ok = receipt.Person("p9")
		Expect(ok).To(BeFalse())

		i, ok := receipt.Item("i2")
		Expect(ok).To(BeTrue())
		Expect(i).To(Equal(1))
		_, ok = receipt.Item("i9")
		Expect(ok).To(BeFalse())
	})
})
