package explain

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// OverlayNormalized blends a colorized heatmap into img, which is first
// resized to the heatmap's size. The blend is
// (1-imageWeight)*heat + imageWeight*img, rescaled so the brightest channel
// value is 255.
func OverlayNormalized(img image.Image, heat *Heatmap, imageWeight float64) *image.NRGBA {
	base := imaging.Resize(img, heat.Width, heat.Height, imaging.Linear)
	colored := heat.Colorize()

	blend := make([]float64, heat.Width*heat.Height*3)
	peak := 0.0
	for y := 0; y < heat.Height; y++ {
		for x := 0; x < heat.Width; x++ {
			bi := y*base.Stride + x*4
			ci := y*colored.Stride + x*4
			oi := (y*heat.Width + x) * 3
			for c := 0; c < 3; c++ {
				v := (1-imageWeight)*float64(colored.Pix[ci+c])/255 + imageWeight*float64(base.Pix[bi+c])/255
				blend[oi+c] = v
				peak = math.Max(peak, v)
			}
		}
	}
	if peak == 0 {
		peak = 1
	}

	out := image.NewNRGBA(image.Rect(0, 0, heat.Width, heat.Height))
	for y := 0; y < heat.Height; y++ {
		for x := 0; x < heat.Width; x++ {
			oi := (y*heat.Width + x) * 3
			pi := y*out.Stride + x*4
			for c := 0; c < 3; c++ {
				out.Pix[pi+c] = to8(blend[oi+c] / peak)
			}
			out.Pix[pi+3] = 0xff
		}
	}
	return out
}

// OverlayWeighted resizes the heatmap to img's size and returns
// heatWeight*heat + imageWeight*img, truncated to 8 bits.
func OverlayWeighted(img image.Image, heat *Heatmap, heatWeight, imageWeight float64) *image.NRGBA {
	base := imaging.Clone(img)
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	colored := heat.Resize(w, h).Colorize()

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bi := y*base.Stride + x*4
			ci := y*colored.Stride + x*4
			for c := 0; c < 3; c++ {
				v := heatWeight*float64(colored.Pix[ci+c]) + imageWeight*float64(base.Pix[bi+c])
				out.Pix[bi+c] = uint8(math.Min(255, v))
			}
			out.Pix[bi+3] = 0xff
		}
	}
	return out
}
