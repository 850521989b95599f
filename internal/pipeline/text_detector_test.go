package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/domain"
)

type fakeTextClassifier struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTextClassifier) Name() string { return "text-bert" }

// Classify reports every passage mentioning "delve" as GPT-3.
func (f *fakeTextClassifier) Classify(_ context.Context, text string) (domain.TextPrediction, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.TextPrediction{}, f.err
	}
	if strings.Contains(text, "delve") {
		return domain.TextPrediction{
			Source:        "GPT-3",
			Probabilities: map[string]float64{"Human": 0.1, "GPT-3": 0.9},
			AIProbability: 0.9,
			IsAIGenerated: true,
		}, nil
	}
	return domain.TextPrediction{
		Source:        "Human",
		Probabilities: map[string]float64{"Human": 1, "GPT-3": 0},
	}, nil
}

const sampleText = "The quick brown fox jumps over the lazy dog near the river bank. Then we delve deeper."

func TestTextWindows(t *testing.T) {
	testCases := []struct {
		name   string
		words  []string
		size   int
		stride int
		want   []wordSpan
	}{
		{"empty", nil, 10, 5, nil},
		{"shorter than window", []string{"a", "b", "c"}, 100, 50, []wordSpan{{0, 2}}},
		{
			"overlapping",
			[]string{"abcd", "abcd", "abcd", "abcd"}, 10, 5,
			[]wordSpan{{0, 1}, {1, 2}, {2, 3}, {3, 3}},
		},
		{
			"word longer than window",
			[]string{strings.Repeat("x", 20), "y"}, 10, 5,
			[]wordSpan{{0, 0}, {1, 1}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, textWindows(tc.words, tc.size, tc.stride))
		})
	}
}

func TestRenderHighlights(t *testing.T) {
	text := "Hello  <b>world</b>\nagain"
	words := strings.Fields(text)
	marked := []bool{false, true, false}

	assert.Equal(t, "Hello {<b>world</b>} again", renderBraces(words, marked))
	assert.Equal(t,
		"Hello  <span class=\"ai-generated\">&lt;b&gt;world&lt;/b&gt;</span>\nagain",
		renderHTML(text, words, marked))
}

func TestAITextDetectorHighlights(t *testing.T) {
	clf := &fakeTextClassifier{}
	d := NewAITextDetector(clf, TextOptions{Window: 30, Stride: 15, Workers: 2})

	res, err := d.DetectText(context.Background(), sampleText, true)
	require.NoError(t, err)

	assert.Equal(t, "text_"+HashString(sampleText), res.Identifier)
	assert.True(t, res.IsAIGenerated)
	assert.Equal(t, "GPT-3", res.Source)
	assert.InDelta(t, 0.9, res.Confidence["GPT-3"], 1e-9)
	assert.Equal(t, 17, res.Words)
	assert.Greater(t, res.Windows, 1)
	assert.Equal(t, int32(res.Windows+1), clf.calls.Load())

	require.NotNil(t, res.HighlightedText)
	require.NotNil(t, res.HTMLText)
	assert.True(t, strings.HasPrefix(*res.HighlightedText, "The quick brown"))
	assert.Contains(t, *res.HighlightedText, "{delve}")
	assert.Contains(t, *res.HTMLText, `<span class="ai-generated">delve</span>`)
	assert.True(t, strings.HasPrefix(*res.HTMLText, "The quick brown"))
}

func TestAITextDetectorWithoutHighlight(t *testing.T) {
	clf := &fakeTextClassifier{}
	d := NewAITextDetector(clf, TextOptions{})

	res, err := d.DetectText(context.Background(), strings.Repeat("plain words ", 6), false)
	require.NoError(t, err)
	assert.False(t, res.IsAIGenerated)
	assert.Equal(t, "Human", res.Source)
	assert.Nil(t, res.HighlightedText)
	assert.Nil(t, res.HTMLText)
	assert.Zero(t, res.Windows)
	assert.Equal(t, int32(1), clf.calls.Load())
}

func TestAITextDetectorErrors(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		clfErr  error
		wantErr error
	}{
		{"too short", "Only a few words here.", nil, ErrTextTooShort},
		{"padding does not count", "   " + strings.Repeat(" ", 60) + "abc\n\t", nil, ErrTextTooShort},
		{"classifier failure", sampleText, errors.New("model offline"), nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewAITextDetector(&fakeTextClassifier{err: tc.clfErr}, TextOptions{})
			_, err := d.DetectText(context.Background(), tc.text, true)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
