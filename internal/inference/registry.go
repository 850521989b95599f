package inference

import (
	"context"
	"fmt"
)

// ModelNames selects which server-side models back each role.
type ModelNames struct {
	Frame    string
	Crop     string
	AIImage  string
	Detector string
	// Text is optional; empty disables AI-generated text detection.
	Text string
}

// Registry is the immutable set of models loaded once at startup and shared
// by every request.
type Registry struct {
	Frame    *ImageClassifier
	Crop     *ImageClassifier
	AIImage  *ImageClassifier
	Detector ObjectDetector
	Text     *TextClassifier
}

// LoadRegistry fetches every model description from the server. Any failure
// is returned; callers treat it as fatal.
func LoadRegistry(ctx context.Context, client *ModelServerClient, names ModelNames) (*Registry, error) {
	load := func(role, name string) (*ImageClassifier, error) {
		if name == "" {
			return nil, fmt.Errorf("no model configured for %s", role)
		}
		m, err := client.Model(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load %s model: %w", role, err)
		}
		return NewImageClassifier(m), nil
	}

	frame, err := load("frame", names.Frame)
	if err != nil {
		return nil, err
	}
	crop, err := load("crop", names.Crop)
	if err != nil {
		return nil, err
	}
	ai, err := load("ai-image", names.AIImage)
	if err != nil {
		return nil, err
	}
	if names.Detector == "" {
		return nil, fmt.Errorf("no model configured for detector")
	}
	if _, err := client.FetchInfo(ctx, names.Detector); err != nil {
		return nil, fmt.Errorf("load detector model: %w", err)
	}

	reg := &Registry{
		Frame:    frame,
		Crop:     crop,
		AIImage:  ai,
		Detector: client.Detector(names.Detector),
	}
	if names.Text != "" {
		m, err := client.Model(ctx, names.Text)
		if err != nil {
			return nil, fmt.Errorf("load text model: %w", err)
		}
		reg.Text = NewTextClassifier(m)
	}
	return reg, nil
}
