package inference

import (
	"context"
	"fmt"
	"image"

	"github.com/timmy/dmi/internal/domain"
)

// ImageClassifier runs preprocessing, the model, and softmax/argmax
// post-processing for one binary classifier.
type ImageClassifier struct {
	model Model
}

// NewImageClassifier wraps a model.
func NewImageClassifier(m Model) *ImageClassifier {
	return &ImageClassifier{model: m}
}

// Name returns the model name.
func (c *ImageClassifier) Name() string {
	return c.model.Info().Name
}

// Info returns the model description.
func (c *ImageClassifier) Info() ModelInfo {
	return c.model.Info()
}

// Prepare converts an image into the model's input tensor.
func (c *ImageClassifier) Prepare(img image.Image) *Tensor {
	info := c.model.Info()
	return Preprocess(img, info.Size(), info.Normalization())
}

// Classify returns the label with the highest probability and that probability.
func (c *ImageClassifier) Classify(ctx context.Context, img image.Image) (domain.Prediction, error) {
	logits, err := c.model.Predict(ctx, c.Prepare(img))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("classify with %s: %w", c.Name(), err)
	}
	if len(logits) == 0 {
		return domain.Prediction{}, fmt.Errorf("classify with %s: empty logits", c.Name())
	}
	probs := Softmax(logits)
	idx := Argmax(probs)
	label, err := c.model.Info().Label(idx)
	if err != nil {
		return domain.Prediction{}, err
	}
	return domain.Prediction{Label: label, Confidence: probs[idx], ClassIndex: idx}, nil
}

// Trace returns the activations and gradients of layer for targetClass.
func (c *ImageClassifier) Trace(ctx context.Context, img image.Image, layer string, targetClass int) (*LayerTrace, error) {
	tm, ok := c.model.(TraceableModel)
	if !ok {
		return nil, ErrTraceUnsupported
	}
	trace, err := tm.Trace(ctx, c.Prepare(img), layer, targetClass)
	if err != nil {
		return nil, fmt.Errorf("trace %s of %s: %w", layer, c.Name(), err)
	}
	return trace, nil
}
