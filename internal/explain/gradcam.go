package explain

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/timmy/dmi/internal/inference"
)

// Heatmap is a row-major map of values in [0,1].
type Heatmap struct {
	Width  int
	Height int
	Values []float64
}

// At returns the value at (x, y).
func (h *Heatmap) At(x, y int) float64 {
	return h.Values[y*h.Width+x]
}

// featureMap is a [C,H,W] view of the first batch item.
type featureMap struct {
	channels int
	height   int
	width    int
	at       func(c, y, x int) float32
}

// toFeatureMap reshapes activations of any supported rank into channels of
// spatial maps:
//
//	[B,F]     -> F channels of 1×1
//	[B,S,H]   -> H channels of side×side when S is a perfect square, else 1×S
//	[B,C,H,W] -> as-is
func toFeatureMap(t *inference.Tensor) (*featureMap, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	data := t.Data
	switch t.Rank() {
	case 2:
		f := t.Shape[1]
		return &featureMap{channels: f, height: 1, width: 1, at: func(c, _, _ int) float32 {
			return data[c]
		}}, nil
	case 3:
		s, hidden := t.Shape[1], t.Shape[2]
		side := int(math.Sqrt(float64(s)))
		if side*side == s {
			return &featureMap{channels: hidden, height: side, width: side, at: func(c, y, x int) float32 {
				return data[(y*side+x)*hidden+c]
			}}, nil
		}
		return &featureMap{channels: hidden, height: 1, width: s, at: func(c, _, x int) float32 {
			return data[x*hidden+c]
		}}, nil
	case 4:
		ch, h, w := t.Shape[1], t.Shape[2], t.Shape[3]
		return &featureMap{channels: ch, height: h, width: w, at: func(c, y, x int) float32 {
			return data[(c*h+y)*w+x]
		}}, nil
	}
	return nil, fmt.Errorf("unsupported activation rank %d (shape %v)", t.Rank(), t.Shape)
}

// ComputeCAM turns a layer trace into a normalized class activation map:
// channel weights are the spatial mean of the gradients, the map is the
// ReLU of the weighted channel sum, then min-max scaled to [0,1]. A flat
// map becomes all zeros.
func ComputeCAM(trace *inference.LayerTrace) (*Heatmap, error) {
	if trace == nil {
		return nil, errors.New("nil layer trace")
	}
	acts, err := toFeatureMap(trace.Activations)
	if err != nil {
		return nil, fmt.Errorf("activations: %w", err)
	}
	grads, err := toFeatureMap(trace.Gradients)
	if err != nil {
		return nil, fmt.Errorf("gradients: %w", err)
	}
	if acts.channels != grads.channels || acts.height != grads.height || acts.width != grads.width {
		return nil, fmt.Errorf("activation map %dx%dx%d does not match gradient map %dx%dx%d",
			acts.channels, acts.height, acts.width, grads.channels, grads.height, grads.width)
	}

	area := float64(acts.height * acts.width)
	weights := make([]float64, acts.channels)
	for c := range weights {
		var sum float64
		for y := 0; y < grads.height; y++ {
			for x := 0; x < grads.width; x++ {
				sum += float64(grads.at(c, y, x))
			}
		}
		weights[c] = sum / area
	}

	cam := &Heatmap{Width: acts.width, Height: acts.height, Values: make([]float64, acts.width*acts.height)}
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < acts.height; y++ {
		for x := 0; x < acts.width; x++ {
			var v float64
			for c, w := range weights {
				v += w * float64(acts.at(c, y, x))
			}
			v = math.Max(v, 0)
			cam.Values[y*acts.width+x] = v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	if hi-lo < 1e-12 {
		for i := range cam.Values {
			cam.Values[i] = 0
		}
		return cam, nil
	}
	for i, v := range cam.Values {
		cam.Values[i] = (v - lo) / (hi - lo)
	}
	return cam, nil
}

// Resize scales the heatmap to width×height with bilinear interpolation.
func (h *Heatmap) Resize(width, height int) *Heatmap {
	if h.Width == width && h.Height == height {
		return h
	}
	gray := image.NewGray(image.Rect(0, 0, h.Width, h.Height))
	for i, v := range h.Values {
		gray.Pix[i] = uint8(math.Round(clamp01(v) * 255))
	}
	scaled := imaging.Resize(gray, width, height, imaging.Linear)
	out := &Heatmap{Width: width, Height: height, Values: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Values[y*width+x] = float64(scaled.Pix[y*scaled.Stride+x*4]) / 255
		}
	}
	return out
}

// Colorize renders the heatmap with the JET colormap.
func (h *Heatmap) Colorize() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, h.Width, h.Height))
	for y := 0; y < h.Height; y++ {
		for x := 0; x < h.Width; x++ {
			img.SetNRGBA(x, y, Jet(h.At(x, y)))
		}
	}
	return img
}

// Jet maps v in [0,1] to the JET colormap (blue, cyan, yellow, red).
func Jet(v float64) color.NRGBA {
	v = clamp01(v)
	r := clamp01(1.5 - math.Abs(4*v-3))
	g := clamp01(1.5 - math.Abs(4*v-2))
	b := clamp01(1.5 - math.Abs(4*v-1))
	return color.NRGBA{R: to8(r), G: to8(g), B: to8(b), A: 0xff}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}
