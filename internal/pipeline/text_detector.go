package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// MinTextLength is the shortest passage, in characters after trimming,
// accepted for AI text detection.
const MinTextLength = 50

// Window and highlight defaults of the AI text detector. Window lengths
// count characters including one separator per word.
const (
	DefaultTextWindow         = 100
	DefaultTextStride         = 50
	DefaultHighlightThreshold = 0.01
)

// ErrTextTooShort is returned for passages under MinTextLength.
var ErrTextTooShort = errors.New("text is too short for reliable analysis")

// TextSourceClassifier attributes a passage to a human or a language model.
type TextSourceClassifier interface {
	Name() string
	Classify(ctx context.Context, text string) (domain.TextPrediction, error)
}

// TextOptions tunes AITextDetector. Zero values select the defaults.
type TextOptions struct {
	Window    int
	Stride    int
	Threshold float64 // mean AI probability above which a word is highlighted
	Workers   int
}

// AITextDetector classifies passages as human-written or AI-generated and
// marks the words that look generated.
type AITextDetector struct {
	model TextSourceClassifier
	opts  TextOptions
}

// NewAITextDetector creates a detector backed by model.
func NewAITextDetector(model TextSourceClassifier, opts TextOptions) *AITextDetector {
	if opts.Window <= 0 {
		opts.Window = DefaultTextWindow
	}
	if opts.Stride <= 0 || opts.Stride >= opts.Window {
		opts.Stride = DefaultTextStride
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultHighlightThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &AITextDetector{model: model, opts: opts}
}

// DetectText classifies text as a whole. With highlight set, overlapping
// windows are classified as well and every word gets the mean AI
// probability of the windows covering it.
func (d *AITextDetector) DetectText(ctx context.Context, text string, highlight bool) (*domain.AITextResult, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextLength {
		return nil, ErrTextTooShort
	}
	id := "text_" + HashString(text)
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldIdentifier: id,
		logger.FieldModel:      d.model.Name(),
	})

	var pred domain.TextPrediction
	if err := runStage(ctx, "classify_text", func(ctx context.Context) error {
		var err error
		pred, err = d.model.Classify(ctx, text)
		return err
	}); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	result := &domain.AITextResult{
		Identifier:    id,
		IsAIGenerated: pred.IsAIGenerated,
		Source:        pred.Source,
		Confidence:    pred.Probabilities,
		AIProbability: pred.AIProbability,
		Words:         len(words),
	}

	if highlight {
		if err := runStage(ctx, "highlight_text", func(ctx context.Context) error {
			spans := textWindows(words, d.opts.Window, d.opts.Stride)
			scores, err := d.scoreWords(ctx, words, spans)
			if err != nil {
				return err
			}
			marked := make([]bool, len(words))
			for i, s := range scores {
				marked[i] = s > d.opts.Threshold
			}
			braces := renderBraces(words, marked)
			markup := renderHTML(text, words, marked)
			result.HighlightedText = &braces
			result.HTMLText = &markup
			result.Windows = len(spans)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	metrics.RecordVerdict(domain.PurposeAIText, pred.Source)
	logger.With(logger.Fields{"prediction": pred.Source, "ai_probability": pred.AIProbability}).
		WithCount(len(words)).
		Info(ctx, "AI text analysis completed")
	return result, nil
}

// wordSpan is an inclusive range of word indices.
type wordSpan struct {
	Start, End int
}

// textWindows splits words into overlapping windows. A window closes once
// its length reaches size; words are then dropped from its front until the
// remainder is no longer than stride. Leftover words form a final window.
func textWindows(words []string, size, stride int) []wordSpan {
	var spans []wordSpan
	start, length := 0, 0
	for i, w := range words {
		length += utf8.RuneCountInString(w) + 1
		if length < size {
			continue
		}
		spans = append(spans, wordSpan{Start: start, End: i})
		for length > stride && start <= i {
			length -= utf8.RuneCountInString(words[start]) + 1
			start++
		}
	}
	if start < len(words) {
		spans = append(spans, wordSpan{Start: start, End: len(words) - 1})
	}
	return spans
}

// scoreWords classifies each window and averages the AI probability of the
// windows covering each word.
func (d *AITextDetector) scoreWords(ctx context.Context, words []string, spans []wordSpan) ([]float64, error) {
	probs := make([]float64, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, span := range spans {
		g.Go(func() error {
			pred, err := d.model.Classify(gctx, strings.Join(words[span.Start:span.End+1], " "))
			if err != nil {
				return fmt.Errorf("classify window %d: %w", i, err)
			}
			probs[i] = pred.AIProbability
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]float64, len(words))
	counts := make([]int, len(words))
	for i, span := range spans {
		for j := span.Start; j <= span.End; j++ {
			scores[j] += probs[i]
			counts[j]++
		}
	}
	for j := range scores {
		if counts[j] > 0 {
			scores[j] /= float64(counts[j])
		}
	}
	return scores, nil
}

// renderBraces joins words with single spaces, wrapping marked ones as {word}.
func renderBraces(words []string, marked []bool) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		if marked[i] {
			b.WriteString("{" + w + "}")
		} else {
			b.WriteString(w)
		}
	}
	return b.String()
}

// renderHTML escapes text and wraps marked words in a span while keeping
// the original whitespace.
func renderHTML(text string, words []string, marked []bool) string {
	var b strings.Builder
	pos := 0
	for i, w := range words {
		at := strings.Index(text[pos:], w)
		if at < 0 {
			continue
		}
		b.WriteString(html.EscapeString(text[pos : pos+at]))
		if marked[i] {
			b.WriteString(`<span class="ai-generated">` + html.EscapeString(w) + `</span>`)
		} else {
			b.WriteString(html.EscapeString(w))
		}
		pos += at + len(w)
	}
	b.WriteString(html.EscapeString(text[pos:]))
	return b.String()
}
