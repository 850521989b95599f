package media

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// FingerprintSide is the edge of the grayscale thumbnail behind Fingerprint.
const FingerprintSide = 16

// FingerprintDim is the length of a fingerprint vector.
const FingerprintDim = FingerprintSide * FingerprintSide

// Fingerprint reduces img to a mean-centred, unit-length vector of its
// 16×16 grayscale thumbnail. Visually similar images have a high cosine
// similarity. A flat image yields the zero vector.
func Fingerprint(img image.Image) []float32 {
	thumb := imaging.Resize(imaging.Grayscale(img), FingerprintSide, FingerprintSide, imaging.Box)

	values := make([]float64, FingerprintDim)
	var mean float64
	for y := 0; y < FingerprintSide; y++ {
		for x := 0; x < FingerprintSide; x++ {
			v := float64(thumb.Pix[y*thumb.Stride+x*4])
			values[y*FingerprintSide+x] = v
			mean += v
		}
	}
	mean /= FingerprintDim

	var norm float64
	for i := range values {
		values[i] -= mean
		norm += values[i] * values[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, FingerprintDim)
	if norm == 0 {
		return out
	}
	for i, v := range values {
		out[i] = float32(v / norm)
	}
	return out
}
