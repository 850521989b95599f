package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/timmy/dmi/internal/domain"
)

// ErrTraceUnsupported is returned when a model cannot expose layer gradients.
var ErrTraceUnsupported = errors.New("model does not support layer tracing")

// LayerDescriptor names one module of a network, in registration order.
type LayerDescriptor struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// ModelInfo describes a classifier as reported by the model server.
type ModelInfo struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels"`
	InputSize int               `json:"input_size"`
	Mean      []float32         `json:"mean"`
	Std       []float32         `json:"std"`
	Layers    []LayerDescriptor `json:"layers"`
}

// Size returns the square input edge, defaulting to DefaultInputSize.
func (i ModelInfo) Size() int {
	if i.InputSize > 0 {
		return i.InputSize
	}
	return DefaultInputSize
}

// Normalization returns the model's normalization, defaulting to ImageNet.
func (i ModelInfo) Normalization() Normalization {
	if len(i.Mean) != 3 || len(i.Std) != 3 {
		return ImageNetNormalization
	}
	var n Normalization
	copy(n.Mean[:], i.Mean)
	copy(n.Std[:], i.Std)
	return n
}

// Label maps a class index to the binary label. Without a label map the
// deepfake convention {0: real, 1: fake} applies.
func (i ModelInfo) Label(idx int) (domain.Label, error) {
	if len(i.Labels) == 0 {
		switch idx {
		case 0:
			return domain.LabelReal, nil
		case 1:
			return domain.LabelFake, nil
		}
		return "", fmt.Errorf("class index %d has no label", idx)
	}
	raw, ok := i.Labels[strconv.Itoa(idx)]
	if !ok {
		return "", fmt.Errorf("model %s has no label for class %d", i.Name, idx)
	}
	label, ok := NormalizeLabel(raw)
	if !ok {
		return "", fmt.Errorf("model %s label %q is neither real nor fake", i.Name, raw)
	}
	return label, nil
}

// NormalizeLabel maps the label vocabularies of the supported models onto
// real/fake.
func NormalizeLabel(raw string) (domain.Label, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fake", "deepfake", "artificial", "ai", "ai-generated", "ai_generated", "synthetic", "generated":
		return domain.LabelFake, true
	case "real", "human", "authentic", "natural", "original":
		return domain.LabelReal, true
	}
	return "", false
}

// LayerTrace holds a layer's forward activations and the gradients of the
// target class score with respect to them. Both share the same shape.
type LayerTrace struct {
	Activations *Tensor `json:"activations"`
	Gradients   *Tensor `json:"gradients"`
}

// Model maps a preprocessed input tensor to class logits.
type Model interface {
	Info() ModelInfo
	Predict(ctx context.Context, input *Tensor) ([]float32, error)
}

// TraceableModel additionally exposes layer activations and gradients.
type TraceableModel interface {
	Model
	Trace(ctx context.Context, input *Tensor, layer string, targetClass int) (*LayerTrace, error)
}

// DetectedObject is one raw box produced by an object detector.
type DetectedObject struct {
	Box   [4]float64 // x1, y1, x2, y2
	Score float64
	Class int
}

// ObjectDetector finds objects in a decoded image.
type ObjectDetector interface {
	Detect(ctx context.Context, img image.Image) ([]DetectedObject, error)
}
