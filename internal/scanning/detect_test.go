package scanning

import (
	"errors"
	"image"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockDetector struct {
	rects []image.Rectangle
	err   error
}

func (m *mockDetector) Detect(image.Image) ([]image.Rectangle, error) {
	return m.rects, m.err
}

var _ = Describe("FilterCandidates", func() {
	frame := image.Rect(0, 0, 1000, 1000)

	It("should keep tall, wide enough rectangles", func() {
		ok := image.Rect(100, 0, 400, 900)
		Expect(FilterCandidates([]image.Rectangle{ok}, frame)).To(Equal([]image.Rectangle{ok}))
	})

	It("should drop landscape rectangles", func() {
		Expect(FilterCandidates([]image.Rectangle{image.Rect(0, 0, 500, 500)}, frame)).To(BeEmpty())
	})

	It("should drop slivers", func() {
		Expect(FilterCandidates([]image.Rectangle{image.Rect(0, 0, 150, 900)}, frame)).To(BeEmpty())
	})

	It("should drop empty rectangles", func() {
		Expect(FilterCandidates([]image.Rectangle{{}}, frame)).To(BeEmpty())
	})
})

var _ = Describe("BrightRegionDetector", func() {
	It("should find the paper on a dark background", func() {
		img := paper(100, 200, image.Rect(20, 10, 80, 190))
		rects, err := NewBrightRegionDetector().Detect(img)

		Expect(err).NotTo(HaveOccurred())
		Expect(rects).To(Equal([]image.Rectangle{image.Rect(20, 10, 80, 190)}))
	})

	It("should scale the region back from the probe", func() {
		img := paper(400, 800, image.Rect(100, 40, 300, 760))
		rects, err := NewBrightRegionDetector().Detect(img)

		Expect(err).NotTo(HaveOccurred())
		Expect(rects).To(HaveLen(1))
		Expect(rects[0].Min.X).To(BeNumerically("~", 100, 4))
		Expect(rects[0].Max.X).To(BeNumerically("~", 300, 4))
		Expect(rects[0].Min.Y).To(BeNumerically("~", 40, 4))
		Expect(rects[0].Max.Y).To(BeNumerically("~", 760, 4))
	})

	It("should find nothing in a dark image", func() {
		rects, err := NewBrightRegionDetector().Detect(paper(50, 50, image.Rectangle{}))
		Expect(err).NotTo(HaveOccurred())
		Expect(rects).To(BeEmpty())
	})
})

var _ = Describe("ReceiptRegion", func() {
	var (
		img    image.Image
		logger *slog.Logger
	)

	BeforeEach(func() {
		img = paper(100, 100, image.Rectangle{})
		logger = slog.Default()
	})

	It("should use the first acceptable candidate", func() {
		region := ReceiptRegion(&mockDetector{rects: []image.Rectangle{image.Rect(0, 0, 90, 50), image.Rect(10, 0, 60, 90)}}, img, logger)
		Expect(region).To(Equal(image.Rect(10, 0, 60, 90)))
	})

	It("should fall back to the full image when detection fails", func() {
		region := ReceiptRegion(&mockDetector{err: errors.New("boom")}, img, logger)
		Expect(region).To(Equal(img.Bounds()))
	})

	It("should fall back to the full image when nothing qualifies", func() {
		region := ReceiptRegion(&mockDetector{}, img, logger)
		Expect(region).To(Equal(img.Bounds()))
	})

	It("should accept a nil detector", func() {
		Expect(ReceiptRegion(nil, img, logger)).To(Equal(img.Bounds()))
	})
})

var _ = Describe("Preprocess", func() {
	It("should crop to the region and binarize", func() {
		img := paper(100, 200, image.Rect(20, 20, 80, 180))
		out := Preprocess(img, image.Rect(10, 10, 90, 190))

		Expect(out.Bounds().Dx()).To(Equal(80))
		Expect(out.Bounds().Dy()).To(Equal(180))
		for _, pt := range []image.Point{{0, 0}, {40, 90}, {79, 179}} {
			r, g, b, _ := out.At(pt.X, pt.Y).RGBA()
			Expect(r).To(Equal(g))
			Expect(g).To(Equal(b))
			Expect(r == 0 || r == 0xffff).To(BeTrue())
		}
		r, _, _, _ := out.At(40, 90).RGBA()
		Expect(r).To(Equal(uint32(0xffff)))
	})

	It("should use the full image for an empty region", func() {
		img := paper(30, 40, image.Rect(5, 5, 25, 35))
		out := Preprocess(img, image.Rectangle{})
		Expect(out.Bounds().Size()).To(Equal(image.Pt(30, 40)))
	})
})
