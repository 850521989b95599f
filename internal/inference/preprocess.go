package inference

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultInputSize is the square input edge used by the frame and crop
// classifiers.
const DefaultInputSize = 224

// Normalization holds per-channel mean and standard deviation.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNetNormalization is the normalization the classifiers were trained with.
var ImageNetNormalization = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Preprocess resizes img to size×size and returns a [1,3,size,size] tensor of
// normalized RGB values.
func Preprocess(img image.Image, size int, norm Normalization) *Tensor {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	t := NewTensor(1, 3, size, size)
	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				t.Data[c*plane+y*size+x] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return t
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
