package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/explain"
	"github.com/timmy/dmi/internal/inference"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metrics"
)

// TraceableClassifier is a classifier whose layers can be traced.
type TraceableClassifier interface {
	Classifier
	Tracer
	Info() inference.ModelInfo
}

// AIImageDetector classifies single images as human-made or AI-generated.
type AIImageDetector struct {
	model        TraceableClassifier
	writer       *media.ArtifactWriter
	syntheticDir string
	ext          string
	layer        string
	strategy     string
}

// NewAIImageDetector creates a detector writing into syntheticDir. The
// Grad-CAM layer is located once from the model's layer list; a failure
// there only disables heatmaps.
func NewAIImageDetector(model TraceableClassifier, writer *media.ArtifactWriter, syntheticDir, ext string) *AIImageDetector {
	d := &AIImageDetector{model: model, writer: writer, syntheticDir: syntheticDir, ext: ext}
	if d.ext == "" {
		d.ext = "jpg"
	}
	log := logger.GetDefault().WithField(logger.FieldModel, model.Name())
	layer, strategy, err := explain.LocateFeatureLayer(model.Info().Layers)
	if err != nil {
		log.WithError(err).Warn("Grad-CAM disabled")
		return d
	}
	d.layer, d.strategy = layer, strategy
	log.WithFields(logger.Fields{"layer": layer, "strategy": strategy}).Info("Located Grad-CAM layer")
	return d
}

// TargetLayer returns the located Grad-CAM layer and the strategy that
// found it.
func (d *AIImageDetector) TargetLayer() (layer, strategy string) {
	return d.layer, d.strategy
}

// ProcessImage copies the image under its identifier, classifies it and
// renders a Grad-CAM overlay at the original resolution.
func (d *AIImageDetector) ProcessImage(ctx context.Context, path string) (*domain.AIImageResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", media.ErrFileNotFound, path)
	}
	id, err := Identify(path)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldIdentifier: id.String(),
		logger.FieldModel:      d.model.Name(),
	})

	stored := filepath.Join(d.syntheticDir, FrameName(id.String(), 0, d.ext))
	if !media.Exists(stored) {
		src, err := media.LoadImage(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", media.ErrInvalidImage, err)
		}
		created, err := d.writer.SaveImage(stored, src)
		if err != nil {
			return nil, err
		}
		metrics.RecordArtifact("synthetic", created)
	}

	img, err := media.LoadImage(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrInvalidImage, err)
	}

	var pred domain.Prediction
	if err := runStage(ctx, "classify_ai_image", func(ctx context.Context) error {
		var err error
		pred, err = d.model.Classify(ctx, img)
		return err
	}); err != nil {
		return nil, err
	}

	result := &domain.AIImageResult{
		Identifier:  id,
		FileID:      id.String(),
		MediaPath:   stored,
		Label:       pred.Label,
		Confidence:  pred.Confidence,
		TargetLayer: d.layer,
		Strategy:    d.strategy,
	}
	result.GradCAMPath = d.gradCAM(ctx, img, pred, stored)

	metrics.RecordVerdict(domain.PurposeAIImage, string(pred.Label))
	logger.With(logger.Fields{"prediction": pred.Label, "confidence": pred.Confidence}).
		Info(ctx, "AI image analysis completed")
	return result, nil
}

func (d *AIImageDetector) gradCAM(ctx context.Context, img image.Image, pred domain.Prediction, stored string) string {
	if d.layer == "" {
		return ""
	}
	path := DerivedName(stored, suffixGradCAM)
	created, err := d.writer.Render(path, func() (image.Image, error) {
		trace, err := d.model.Trace(ctx, img, d.layer, pred.ClassIndex)
		if err != nil {
			return nil, err
		}
		cam, err := explain.ComputeCAM(trace)
		if err != nil {
			return nil, err
		}
		return explain.OverlayWeighted(img, cam, 0.4, 0.6), nil
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Grad-CAM failed")
		return ""
	}
	metrics.RecordArtifact("gradcam", created)
	return path
}
