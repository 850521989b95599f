package explain

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/inference"
)

func tensor(shape []int, data ...float32) *inference.Tensor {
	return &inference.Tensor{Shape: shape, Data: data}
}

func TestComputeCAMConvolutional(t *testing.T) {
	// channel 0 carries the gradient, channel 1 is ignored
	trace := &inference.LayerTrace{
		Activations: tensor([]int{1, 2, 2, 2}, 0, 1, 2, 3, 9, 9, 9, 9),
		Gradients:   tensor([]int{1, 2, 2, 2}, 1, 1, 1, 1, 0, 0, 0, 0),
	}
	cam, err := ComputeCAM(trace)
	require.NoError(t, err)
	assert.Equal(t, 2, cam.Width)
	assert.Equal(t, 2, cam.Height)
	assert.InDeltaSlice(t, []float64{0, 1.0 / 3, 2.0 / 3, 1}, cam.Values, 1e-9)
}

func TestComputeCAMShapes(t *testing.T) {
	testCases := []struct {
		name   string
		shape  []int
		data   []float32
		width  int
		height int
	}{
		{name: "square tokens", shape: []int{1, 4, 1}, data: []float32{1, 2, 3, 4}, width: 2, height: 2},
		{name: "non-square tokens", shape: []int{1, 3, 1}, data: []float32{1, 2, 3}, width: 3, height: 1},
		{name: "pooled features", shape: []int{1, 5}, data: []float32{1, 2, 3, 4, 5}, width: 1, height: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			grads := make([]float32, len(tc.data))
			for i := range grads {
				grads[i] = 1
			}
			cam, err := ComputeCAM(&inference.LayerTrace{
				Activations: tensor(tc.shape, tc.data...),
				Gradients:   tensor(tc.shape, grads...),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.width, cam.Width)
			assert.Equal(t, tc.height, cam.Height)
			for _, v := range cam.Values {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
		})
	}
}

func TestComputeCAMFlatAndNegative(t *testing.T) {
	cam, err := ComputeCAM(&inference.LayerTrace{
		Activations: tensor([]int{1, 1, 2, 2}, -1, -2, -3, -4),
		Gradients:   tensor([]int{1, 1, 2, 2}, 1, 1, 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, cam.Values)
}

func TestComputeCAMErrors(t *testing.T) {
	_, err := ComputeCAM(nil)
	assert.Error(t, err)

	_, err = ComputeCAM(&inference.LayerTrace{
		Activations: tensor([]int{1, 1, 2, 2}, 1, 2, 3, 4),
		Gradients:   tensor([]int{1, 2, 2, 1}, 1, 1, 1, 1),
	})
	assert.Error(t, err)

	_, err = ComputeCAM(&inference.LayerTrace{
		Activations: tensor([]int{4}, 1, 2, 3, 4),
		Gradients:   tensor([]int{4}, 1, 1, 1, 1),
	})
	assert.Error(t, err)
}

func TestJet(t *testing.T) {
	assert.Equal(t, color.NRGBA{R: 0, G: 0, B: 128, A: 255}, Jet(0))
	assert.Equal(t, color.NRGBA{R: 128, G: 255, B: 128, A: 255}, Jet(0.5))
	assert.Equal(t, color.NRGBA{R: 128, G: 0, B: 0, A: 255}, Jet(1))
	assert.Equal(t, Jet(1), Jet(3))
}

func TestHeatmapResize(t *testing.T) {
	h := &Heatmap{Width: 2, Height: 2, Values: []float64{1, 1, 1, 1}}
	r := h.Resize(8, 6)
	assert.Equal(t, 8, r.Width)
	assert.Equal(t, 6, r.Height)
	for _, v := range r.Values {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
	assert.Same(t, h, h.Resize(2, 2))
}

func TestOverlayWeighted(t *testing.T) {
	img := imaging.New(8, 8, color.White)
	heat := &Heatmap{Width: 4, Height: 4, Values: make([]float64, 16)}

	out := OverlayWeighted(img, heat, 0.4, 0.6)
	require.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
	assert.Equal(t, color.NRGBA{R: 153, G: 153, B: 204, A: 255}, out.NRGBAAt(3, 5))
}

func TestOverlayNormalized(t *testing.T) {
	img := imaging.New(10, 10, color.Black)
	heat := &Heatmap{Width: 4, Height: 4, Values: make([]float64, 16)}

	out := OverlayNormalized(img, heat, 0.5)
	require.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	// the only non-zero channel is scaled up to the maximum
	assert.Equal(t, color.NRGBA{R: 0, G: 0, B: 255, A: 255}, out.NRGBAAt(1, 1))
}

func TestELA(t *testing.T) {
	img := imaging.New(24, 16, color.NRGBA{R: 180, G: 60, B: 30, A: 255})
	for x := 0; x < 24; x += 3 {
		img.SetNRGBA(x, x%16, color.NRGBA{R: 10, G: 250, B: 90, A: 255})
	}

	out, err := ELA(img, 90, 50)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 24, 16), out.Bounds())
	for i := 3; i < len(out.Pix); i += 4 {
		assert.Equal(t, uint8(255), out.Pix[i])
	}

	silent, err := ELA(img, 90, 0)
	require.NoError(t, err)
	for i, v := range silent.Pix {
		if i%4 != 3 {
			require.Zero(t, v)
		}
	}
}

func layers(names ...string) []inference.LayerDescriptor {
	out := make([]inference.LayerDescriptor, len(names))
	for i, n := range names {
		out[i] = inference.LayerDescriptor{Name: n}
	}
	return out
}

func TestLocateFeatureLayer(t *testing.T) {
	testCases := []struct {
		name     string
		layers   []inference.LayerDescriptor
		want     string
		strategy string
	}{
		{
			name:     "swinv2 final norm",
			layers:   layers("swinv2", "swinv2.encoder.layers.0.layernorm", "swinv2.layernorm", "classifier"),
			want:     "swinv2.layernorm",
			strategy: "swinv2_layernorm",
		},
		{
			name: "swinv2 last stage norm",
			layers: layers("swinv2.encoder.layers.2", "swinv2.encoder.layers.2.layernorm",
				"swinv2.encoder.layers.10", "swinv2.encoder.layers.10.layernorm", "classifier"),
			want:     "swinv2.encoder.layers.10.layernorm",
			strategy: "swinv2_last_stage_norm",
		},
		{
			name: "swinv2 last block norm",
			layers: layers("swinv2.encoder.layers.3.blocks.0.norm1",
				"swinv2.encoder.layers.3.blocks.1.norm1", "classifier"),
			want:     "swinv2.encoder.layers.3.blocks.1.norm1",
			strategy: "swinv2_last_block_norm",
		},
		{
			name:     "backbone norm",
			layers:   layers("backbone", "backbone.layers.0.blocks.0.norm1", "backbone.norm", "head"),
			want:     "backbone.norm",
			strategy: "backbone_norm",
		},
		{
			name:     "backbone last block",
			layers:   layers("backbone.layers.0.blocks.0.norm1", "backbone.layers.1.blocks.2.norm1", "head"),
			want:     "backbone.layers.1.blocks.2.norm1",
			strategy: "backbone_last_block_norm",
		},
		{
			name:     "generic stage norm",
			layers:   layers("features.stage2.bn", "features.stage2.norm", "fc"),
			want:     "features.stage2.norm",
			strategy: "generic_stage_norm",
		},
		{
			name:     "classifier head",
			layers:   layers("conv1", "classifier"),
			want:     "classifier",
			strategy: "head_fallback",
		},
		{
			name:     "penultimate child",
			layers:   layers("conv1", "bn1", "fc"),
			want:     "bn1",
			strategy: "last_children",
		},
		{
			name:     "single child",
			layers:   layers("features", "features.0"),
			want:     "features",
			strategy: "last_children",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, strategy, err := LocateFeatureLayer(tc.layers)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.strategy, strategy)
		})
	}

	_, _, err := LocateFeatureLayer(nil)
	assert.ErrorIs(t, err, ErrNoTargetLayer)
}
