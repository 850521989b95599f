// Package app wires configuration into the running analysis stack shared
// by the API server and the command-line analyzer.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/timmy/dmi/internal/api/handler"
	"github.com/timmy/dmi/internal/cache"
	"github.com/timmy/dmi/internal/config"
	"github.com/timmy/dmi/internal/inference"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metadata"
	"github.com/timmy/dmi/internal/pipeline"
	"github.com/timmy/dmi/internal/repository"
	"github.com/timmy/dmi/internal/service"
	"github.com/timmy/dmi/internal/storage"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config       *config.Config
	Models       *inference.Registry
	Pipeline     *pipeline.DeepfakeDetectionPipeline
	AIDetector   *pipeline.AIImageDetector
	TextDetector *pipeline.AITextDetector // nil when no text model is configured
	Analysis     *service.AnalysisService
	Checks       map[string]handler.HealthCheck

	closers []func() error
}

// Build connects to every configured dependency. Any unreachable enabled
// dependency is an error; callers treat it as fatal.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Checks: map[string]handler.HealthCheck{}}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	for _, dir := range []string{
		cfg.Media.SubmissionsPath(),
		cfg.Media.FramesPath(),
		cfg.Media.CropsPath(),
		cfg.Media.SyntheticPath(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}

	client := inference.NewModelServerClient(&inference.ClientConfig{
		BaseURL:          cfg.Models.ServerURL,
		Timeout:          cfg.Models.Timeout,
		BreakerName:      "model-server",
		FailureThreshold: cfg.Models.BreakerFailures,
		HalfOpenRequests: cfg.Models.BreakerHalfOpen,
		Interval:         cfg.Models.BreakerInterval,
		OpenTimeout:      cfg.Models.BreakerTimeout,
	})
	models, err := inference.LoadRegistry(ctx, client, inference.ModelNames{
		Frame:    cfg.Models.FrameModel,
		Crop:     cfg.Models.CropModel,
		AIImage:  cfg.Models.AIImageModel,
		Detector: cfg.Models.DetectorModel,
		Text:     cfg.Models.TextModel,
	})
	if err != nil {
		return nil, err
	}
	a.Models = models
	a.Checks["model_server"] = client.Health
	log.WithFields(logger.Fields{
		"frame":    models.Frame.Name(),
		"crop":     models.Crop.Name(),
		"ai_image": models.AIImage.Name(),
	}).Info("Model registry loaded")

	// A nil VideoSource disables video submissions.
	var videos media.VideoSource
	var prober metadata.FormatProber
	if ff, err := media.NewFFmpegSource(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath); err != nil {
		log.WithError(err).Warn("ffmpeg unavailable, video submissions will be rejected")
	} else {
		videos, prober = ff, ff
	}

	predictions, err := a.predictionCache(ctx, log)
	if err != nil {
		return nil, err
	}

	writer := media.NewArtifactWriter(95)
	checker := media.NewTypeChecker(videos)
	locator := pipeline.NewFaceLocator(models.Detector, cfg.Pipeline.FaceThreshold, cfg.Models.PersonClassID)
	extractor := pipeline.NewFrameExtractor(
		locator,
		pipeline.NewCropExtractor(writer, cfg.Pipeline.CropSize),
		videos,
		writer,
		cfg.Media.FileFormat,
	)
	a.Pipeline = pipeline.NewDeepfakeDetectionPipeline(checker, extractor, models.Frame, models.Crop, predictions, writer, pipeline.Options{
		FramesDir:     cfg.Media.FramesPath(),
		CropsDir:      cfg.Media.CropsPath(),
		FileFormat:    cfg.Media.FileFormat,
		Workers:       cfg.Pipeline.Workers,
		GradCAMLayer:  cfg.Pipeline.GradCAMLayer,
		EnableGradCAM: cfg.Pipeline.EnableGradCAM,
		EnableELA:     cfg.Pipeline.EnableELA,
		ELAQuality:    cfg.Pipeline.ELAQuality,
		ELAScale:      cfg.Pipeline.ELAScale,
	})
	a.AIDetector = pipeline.NewAIImageDetector(models.AIImage, writer, cfg.Media.SyntheticPath(), cfg.Media.FileFormat)
	var texts service.AITextAnalyzer
	if models.Text != nil {
		a.TextDetector = pipeline.NewAITextDetector(models.Text, pipeline.TextOptions{
			Window:    cfg.Pipeline.TextWindow,
			Stride:    cfg.Pipeline.TextStride,
			Threshold: cfg.Pipeline.TextHighlightThreshold,
			Workers:   cfg.Pipeline.Workers,
		})
		texts = a.TextDetector
		log.WithField("model", models.Text.Name()).Info("AI text detection enabled")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	a.Checks["database"] = sqlDB.PingContext

	resolver, err := a.urlResolver(ctx, log)
	if err != nil {
		return nil, err
	}

	var archive service.SimilarityIndex
	if cfg.Qdrant.Enabled {
		idx, err := repository.NewArchiveIndex(&repository.ArchiveConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("ensure archive collection: %w", err)
		}
		archive = idx
		log.WithField("collection", cfg.Qdrant.Collection).Info("Submission archive enabled")
	}

	var meta service.MetadataExtractor
	if cfg.Metadata.Enabled {
		meta = metadata.NewExtractor(prober)
	}

	a.Analysis = service.NewAnalysisService(
		a.Pipeline,
		a.AIDetector,
		texts,
		checker,
		repository.NewDetectionRepository(db),
		resolver,
		meta,
		archive,
		log,
		&service.AnalysisConfig{
			SubmissionsDir:   cfg.Media.SubmissionsPath(),
			DefaultFrameRate: cfg.Pipeline.FrameRate,
		},
	)
	ok = true
	return a, nil
}

func (a *App) predictionCache(ctx context.Context, log *logger.Logger) (pipeline.PredictionCache, error) {
	cfg := a.Config
	if !cfg.Pipeline.PredictionCache {
		return nil, nil
	}
	if !cfg.Redis.Enabled {
		return pipeline.NewMemoryCache(cfg.Pipeline.MemoryCacheSize), nil
	}
	rc, err := cache.NewRedisPredictionCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	a.Checks["redis"] = rc.Ping
	log.WithField("addr", cfg.Redis.Addr).Info("Redis prediction cache enabled")
	return rc, nil
}

func (a *App) urlResolver(ctx context.Context, log *logger.Logger) (storage.URLResolver, error) {
	cfg := a.Config
	if !cfg.Storage.Enabled {
		return storage.NewLocalURLResolver(cfg.Media.Root, cfg.Media.HostURL, cfg.Media.MediaURL), nil
	}
	store, err := storage.NewS3Storage(ctx, &storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure storage bucket: %w", err)
	}
	log.WithFields(logger.Fields{
		"bucket": cfg.Storage.Bucket,
		"type":   cfg.Storage.Type,
	}).Info("Publishing artifacts to object storage")
	return storage.NewPublishingResolver(store, cfg.Media.Root, cfg.Storage.Prefix), nil
}

// Close releases every connection opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
