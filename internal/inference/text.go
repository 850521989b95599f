package inference

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/dmi/internal/domain"
)

// DefaultTextLabels is used when the text model reports no label map.
var DefaultTextLabels = map[string]string{"0": "Human", "1": "GPT-3", "2": "Claude"}

// TextModel maps raw text to class logits. Tokenization happens on the
// model server.
type TextModel interface {
	Info() ModelInfo
	PredictText(ctx context.Context, text string) ([]float32, error)
}

type predictTextRequest struct {
	Text string `json:"text"`
}

// PredictText returns the raw logits for text.
func (m *RemoteModel) PredictText(ctx context.Context, text string) ([]float32, error) {
	var out predictResponse
	_, err := m.client.call(ctx, m.name, "predict_text", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(predictTextRequest{Text: text}).SetResult(&out).Post("/v1/models/{model}:predict_text")
	})
	if err != nil {
		return nil, err
	}
	return out.Logits, nil
}

// TextClassifier attributes a passage to one of the model's sources.
// Every label that does not normalize to real counts as AI-generated.
type TextClassifier struct {
	model TextModel
}

// NewTextClassifier wraps a text model.
func NewTextClassifier(m TextModel) *TextClassifier {
	return &TextClassifier{model: m}
}

// Name returns the model name.
func (c *TextClassifier) Name() string {
	return c.model.Info().Name
}

func (c *TextClassifier) labels() map[string]string {
	if labels := c.model.Info().Labels; len(labels) > 0 {
		return labels
	}
	return DefaultTextLabels
}

// Classify returns the most likely source of text together with the full
// distribution over sources.
func (c *TextClassifier) Classify(ctx context.Context, text string) (domain.TextPrediction, error) {
	logits, err := c.model.PredictText(ctx, text)
	if err != nil {
		return domain.TextPrediction{}, fmt.Errorf("classify text with %s: %w", c.Name(), err)
	}
	if len(logits) == 0 {
		return domain.TextPrediction{}, fmt.Errorf("classify text with %s: empty logits", c.Name())
	}

	labels := c.labels()
	probs := Softmax(logits)
	pred := domain.TextPrediction{Probabilities: make(map[string]float64, len(probs))}
	for i, p := range probs {
		name, ok := labels[strconv.Itoa(i)]
		if !ok {
			return domain.TextPrediction{}, fmt.Errorf("model %s has no label for class %d", c.Name(), i)
		}
		pred.Probabilities[name] = p
		if !isHumanLabel(name) {
			pred.AIProbability += p
		}
	}
	pred.Source = labels[strconv.Itoa(Argmax(probs))]
	pred.IsAIGenerated = !isHumanLabel(pred.Source)
	return pred, nil
}

func isHumanLabel(raw string) bool {
	label, ok := NormalizeLabel(raw)
	return ok && label == domain.LabelReal
}
