package explain

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"
)

// ELA produces an error level analysis image: img is recompressed as JPEG at
// quality, and every channel of the absolute difference d is mapped to
// min(255, round(d^1.5 * scale)).
func ELA(img image.Image, quality int, scale float64) (*image.NRGBA, error) {
	src := imaging.Clone(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("recompress: %w", err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode recompressed: %w", err)
	}
	resaved := imaging.Clone(decoded)

	var lut [256]uint8
	for d := range lut {
		lut[d] = uint8(math.Min(255, math.Round(math.Pow(float64(d), 1.5)*scale)))
	}

	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*src.Stride + x*4
			j := y*resaved.Stride + x*4
			k := y*out.Stride + x*4
			for c := 0; c < 3; c++ {
				d := int(src.Pix[i+c]) - int(resaved.Pix[j+c])
				if d < 0 {
					d = -d
				}
				out.Pix[k+c] = lut[d]
			}
			out.Pix[k+3] = 0xff
		}
	}
	return out, nil
}
