// Package pipeline turns a submitted image or video into a deepfake report:
// frames with faces are sampled, faces are cropped, frames and crops are
// classified and explained, and the per-frame verdicts are aggregated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/explain"
	"github.com/timmy/dmi/internal/inference"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAnalysisFailed is returned when no saved frame could be classified.
	ErrAnalysisFailed = errors.New("analysis failed")

	errEmptyRegion = errors.New("empty crop region")
)

// Classifier is a binary real/fake image classifier.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, img image.Image) (domain.Prediction, error)
}

// Tracer exposes layer activations and gradients for Grad-CAM.
type Tracer interface {
	Trace(ctx context.Context, img image.Image, layer string, targetClass int) (*inference.LayerTrace, error)
}

// TypeChecker classifies a file as image or video.
type TypeChecker interface {
	Check(ctx context.Context, path string) (domain.MediaType, error)
}

// Options configures a DeepfakeDetectionPipeline.
type Options struct {
	FramesDir     string
	CropsDir      string
	FileFormat    string
	Workers       int
	GradCAMLayer  string
	EnableGradCAM bool
	EnableELA     bool
	ELAQuality    int
	ELAScale      float64
}

// DeepfakeDetectionPipeline runs the full deepfake analysis of one file.
type DeepfakeDetectionPipeline struct {
	checker    TypeChecker
	extractor  *FrameExtractor
	frameModel Classifier
	cropModel  Classifier
	cache      PredictionCache
	writer     *media.ArtifactWriter
	opts       Options
}

// NewDeepfakeDetectionPipeline creates a pipeline. A nil cache disables
// prediction caching.
func NewDeepfakeDetectionPipeline(
	checker TypeChecker,
	extractor *FrameExtractor,
	frameModel Classifier,
	cropModel Classifier,
	cache PredictionCache,
	writer *media.ArtifactWriter,
	opts Options,
) *DeepfakeDetectionPipeline {
	if cache == nil {
		cache = noCache{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FileFormat == "" {
		opts.FileFormat = "jpg"
	}
	return &DeepfakeDetectionPipeline{
		checker:    checker,
		extractor:  extractor,
		frameModel: frameModel,
		cropModel:  cropModel,
		cache:      cache,
		writer:     writer,
		opts:       opts,
	}
}

// runStage logs and measures one pipeline stage.
func runStage(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	start := time.Now()
	done := logger.StartStage(ctx, stage)
	err := fn(logger.SetStage(ctx, stage))
	done(err)
	metrics.ObserveStage(stage, err, time.Since(start))
	return err
}

// ProcessMedia analyzes the file at path, sampling videos at frameRate
// frames per second. A submission without faces yields a result whose
// Status is no_faces and a nil error.
func (p *DeepfakeDetectionPipeline) ProcessMedia(ctx context.Context, path string, frameRate float64) (*domain.MediaAnalysisResult, error) {
	var mediaType domain.MediaType
	if err := runStage(ctx, "type_check", func(ctx context.Context) error {
		var err error
		mediaType, err = p.checker.Check(ctx, path)
		return err
	}); err != nil {
		return nil, err
	}

	id, err := Identify(path)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldIdentifier: id.String(),
		logger.FieldMediaType:  string(mediaType),
	})

	result := &domain.MediaAnalysisResult{
		MediaPath:    path,
		MediaType:    mediaType,
		Identifier:   id,
		FileID:       id.String(),
		FrameResults: []domain.FrameResult{},
	}
	sub := NewSubmission(path, mediaType, id.String())

	var faceFound bool
	if err := runStage(ctx, "extract_frames", func(ctx context.Context) error {
		var err error
		faceFound, err = p.extractor.Extract(ctx, sub, p.opts.FramesDir, frameRate, ModeFrames)
		return err
	}); err != nil {
		return nil, err
	}
	if !faceFound {
		logger.CtxInfo(ctx, "No faces detected in media")
		result.Status = domain.AnalysisStatusNoFaces
		metrics.RecordVerdict(domain.PurposeDeepfake, "no_faces")
		return result, nil
	}

	if err := runStage(ctx, "extract_crops", func(ctx context.Context) error {
		_, err := p.extractor.Extract(ctx, sub, p.opts.CropsDir, frameRate, ModeCrops)
		return err
	}); err != nil {
		return nil, err
	}

	if err := runStage(ctx, "analyze_frames", func(ctx context.Context) error {
		frames, err := p.analyzeFrames(ctx, id.String())
		result.FrameResults = frames
		return err
	}); err != nil {
		return nil, err
	}

	result.Status = domain.AnalysisStatusCompleted
	result.Statistics = ComputeStatistics(result.FrameResults)

	verdict := domain.LabelReal
	if result.Statistics.IsDeepfake {
		verdict = domain.LabelFake
	}
	metrics.RecordVerdict(domain.PurposeDeepfake, string(verdict))
	logger.With(logger.Fields{"is_deepfake": result.Statistics.IsDeepfake}).
		WithFrames(result.Statistics.TotalFrames, result.Statistics.TotalCrops).
		Info(ctx, "Deepfake analysis completed")
	return result, nil
}

// analyzeFrames classifies every saved frame of id. Results keep the
// natural frame order whatever order the workers finish in.
func (p *DeepfakeDetectionPipeline) analyzeFrames(ctx context.Context, id string) ([]domain.FrameResult, error) {
	frames, err := listArtifacts(p.opts.FramesDir, id+"_", 1)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return []domain.FrameResult{}, nil
	}

	results := make([]*domain.FrameResult, len(frames))
	errs := make([]error, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := p.analyzeFrame(gctx, id, frame)
			if err != nil {
				logger.FromContext(gctx).WithField(logger.FieldFrameIndex, frame.indices[0]).
					WithError(err).Warn("Skipping frame")
				errs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.FrameResult, 0, len(frames))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) == 0 {
		return out, fmt.Errorf("%w: %w", ErrAnalysisFailed, errors.Join(errs...))
	}
	return out, nil
}

func (p *DeepfakeDetectionPipeline) analyzeFrame(ctx context.Context, id string, frame artifact) (*domain.FrameResult, error) {
	index := frame.indices[0]
	ctx = logger.WithField(ctx, logger.FieldFrameIndex, index)

	img, err := media.LoadImage(frame.path)
	if err != nil {
		return nil, err
	}
	pred, err := p.classify(ctx, p.frameModel, frame.name, func() (image.Image, error) { return img, nil })
	if err != nil {
		return nil, err
	}

	result := &domain.FrameResult{
		FrameID:       strings.TrimSuffix(frame.name, filepath.Ext(frame.name)),
		FrameIndex:    index,
		FramePath:     frame.path,
		FrameAnalysis: pred,
	}
	if p.opts.EnableGradCAM {
		result.GradCAMPath = p.frameGradCAM(ctx, img, pred, frame.path)
	}
	if p.opts.EnableELA {
		result.ELAPath = p.frameELA(ctx, img, frame.path)
	}

	crops, err := listArtifacts(p.opts.CropsDir, fmt.Sprintf("%s_%d_", id, index), 1)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to list crops")
	}
	result.CropAnalyses = make([]domain.CropAnalysis, 0, len(crops))
	for _, crop := range crops {
		cropPred, err := p.classify(ctx, p.cropModel, crop.name, func() (image.Image, error) {
			return media.LoadImage(crop.path)
		})
		if err != nil {
			logger.FromContext(ctx).WithField("crop", crop.name).WithError(err).Warn("Skipping crop")
			continue
		}
		result.CropAnalyses = append(result.CropAnalyses, domain.CropAnalysis{
			FaceIndex:  crop.indices[0],
			Prediction: cropPred.Label,
			Confidence: cropPred.Confidence,
			Path:       crop.path,
		})
	}

	result.FinalVerdict = FrameVerdict(pred, result.CropAnalyses)
	return result, nil
}

// classify consults the prediction cache before loading and classifying
// the artifact.
func (p *DeepfakeDetectionPipeline) classify(ctx context.Context, model Classifier, name string, load func() (image.Image, error)) (domain.Prediction, error) {
	key := CacheKey(model.Name(), name)
	cached, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Prediction cache lookup failed")
	}
	metrics.RecordCacheLookup(ok)
	if ok {
		return cached, nil
	}

	img, err := load()
	if err != nil {
		return domain.Prediction{}, err
	}
	pred, err := model.Classify(ctx, img)
	if err != nil {
		return domain.Prediction{}, err
	}
	if err := p.cache.Set(ctx, key, pred); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Prediction cache store failed")
	}
	return pred, nil
}

// frameGradCAM renders "{frame}_gradcam.{ext}" and returns its path, or ""
// when the model cannot be traced.
func (p *DeepfakeDetectionPipeline) frameGradCAM(ctx context.Context, img image.Image, pred domain.Prediction, framePath string) string {
	tracer, ok := p.frameModel.(Tracer)
	if !ok {
		return ""
	}
	path := DerivedName(framePath, suffixGradCAM)
	created, err := p.writer.Render(path, func() (image.Image, error) {
		trace, err := tracer.Trace(ctx, img, p.opts.GradCAMLayer, pred.ClassIndex)
		if err != nil {
			return nil, err
		}
		cam, err := explain.ComputeCAM(trace)
		if err != nil {
			return nil, err
		}
		size := inference.DefaultInputSize
		return explain.OverlayNormalized(img, cam.Resize(size, size), 0.5), nil
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Grad-CAM failed")
		return ""
	}
	metrics.RecordArtifact("gradcam", created)
	return path
}

// frameELA renders "{frame}_ela.{ext}" and returns its path, or "" on failure.
func (p *DeepfakeDetectionPipeline) frameELA(ctx context.Context, img image.Image, framePath string) string {
	path := DerivedName(framePath, suffixELA)
	created, err := p.writer.Render(path, func() (image.Image, error) {
		return explain.ELA(imaging.Clone(img), p.opts.ELAQuality, p.opts.ELAScale)
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Error level analysis failed")
		return ""
	}
	metrics.RecordArtifact("ela", created)
	return path
}
