package scanning

import (
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Preprocess crops img to region and prepares it for text recognition:
// grayscale, contrast +20%, a light blur against sensor noise, sharpening
// and a global binarization at the mean luminance. If anything goes wrong
// the original image is returned.
func Preprocess(img image.Image, region image.Rectangle) (out image.Image) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Preprocessing failed, using original image", "panic", r)
			out = img
		}
	}()

	region = region.Intersect(img.Bounds())
	if region.Empty() {
		region = img.Bounds()
	}
	if region.Empty() {
		return img
	}

	processed := imaging.Crop(img, region)
	processed = imaging.Grayscale(processed)
	processed = imaging.AdjustContrast(processed, 20)
	processed = imaging.Blur(processed, 0.5)
	processed = imaging.Sharpen(processed, 1)

	return binarize(processed)
}

func binarize(img *image.NRGBA) *image.NRGBA {
	threshold := meanLuminance(img)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if c.R >= threshold {
			return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
		}
		return color.NRGBA{A: c.A}
	})
}

// meanLuminance expects a grayscale image, where R == G == B.
func meanLuminance(img *image.NRGBA) uint8 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 128
	}
	var sum int
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			sum += int(row[x])
		}
	}
	return uint8(sum / n)
}
