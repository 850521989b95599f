package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metrics"
	"github.com/timmy/dmi/internal/repository"
	"github.com/timmy/dmi/internal/storage"
)

var (
	// ErrArchiveDisabled is returned by FindSimilar when no archive index is configured.
	ErrArchiveDisabled = errors.New("submission archive is disabled")
	// ErrTextDisabled is returned by AnalyzeText when no text model is configured.
	ErrTextDisabled = errors.New("AI text detection is disabled")
)

// DeepfakeAnalyzer runs the deepfake pipeline on a local file.
type DeepfakeAnalyzer interface {
	ProcessMedia(ctx context.Context, path string, frameRate float64) (*domain.MediaAnalysisResult, error)
}

// AIImageAnalyzer runs the AI-generated image detector on a local file.
type AIImageAnalyzer interface {
	ProcessImage(ctx context.Context, path string) (*domain.AIImageResult, error)
}

// AITextAnalyzer runs the AI-generated text detector on a passage.
type AITextAnalyzer interface {
	DetectText(ctx context.Context, text string, highlight bool) (*domain.AITextResult, error)
}

// TypeChecker classifies a file as image or video.
type TypeChecker interface {
	Check(ctx context.Context, path string) (domain.MediaType, error)
}

// MetadataExtractor describes a submitted file.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string, mediaType domain.MediaType) domain.JSONMap
}

// SimilarityIndex stores and searches submission fingerprints.
type SimilarityIndex interface {
	Upsert(ctx context.Context, entry repository.ArchiveEntry, vector []float32) error
	Similar(ctx context.Context, vector []float32, limit int, excludeIdentifier string) ([]repository.ArchiveMatch, error)
}

// AnalysisConfig holds the tunables of AnalysisService.
type AnalysisConfig struct {
	SubmissionsDir   string
	DefaultFrameRate float64
	SimilarLimit     int
}

// AnalysisService accepts uploads, runs the detectors on them, persists the
// outcome and publishes artifact URLs.
type AnalysisService struct {
	deepfake DeepfakeAnalyzer
	aiImage  AIImageAnalyzer
	aiText   AITextAnalyzer
	checker  TypeChecker
	records  *repository.DetectionRepository
	resolver storage.URLResolver
	metadata MetadataExtractor
	archive  SimilarityIndex
	logger   *logger.Logger
	cfg      AnalysisConfig
}

// NewAnalysisService creates the service. aiText, metadata and archive may
// be nil to disable text detection, metadata extraction and similarity
// indexing.
func NewAnalysisService(
	deepfake DeepfakeAnalyzer,
	aiImage AIImageAnalyzer,
	aiText AITextAnalyzer,
	checker TypeChecker,
	records *repository.DetectionRepository,
	resolver storage.URLResolver,
	metadata MetadataExtractor,
	archive SimilarityIndex,
	log *logger.Logger,
	cfg *AnalysisConfig,
) *AnalysisService {
	c := *cfg
	if c.DefaultFrameRate <= 0 {
		c.DefaultFrameRate = 2
	}
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = 10
	}
	return &AnalysisService{
		deepfake: deepfake,
		aiImage:  aiImage,
		aiText:   aiText,
		checker:  checker,
		records:  records,
		resolver: resolver,
		metadata: metadata,
		archive:  archive,
		logger:   log,
		cfg:      c,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *AnalysisService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// DeepfakeAnalysis is the outcome of one deepfake request.
type DeepfakeAnalysis struct {
	Record *domain.DetectionRecord
	Result *domain.MediaAnalysisResult
}

// AIImageAnalysis is the outcome of one AI-generated image request.
type AIImageAnalysis struct {
	Record *domain.DetectionRecord
	Result *domain.AIImageResult
}

// AITextAnalysis is the outcome of one AI-generated text request.
type AITextAnalysis struct {
	Record *domain.DetectionRecord
	Result *domain.AITextResult
}

// SimilarSubmission is an earlier submission whose fingerprint is close to
// the queried one.
type SimilarSubmission struct {
	RecordID         string  `json:"id"`
	Identifier       string  `json:"file_identifier"`
	Purpose          string  `json:"purpose"`
	MediaType        string  `json:"media_type"`
	IsDeepfake       bool    `json:"is_deepfake"`
	Score            float32 `json:"score"`
	OriginalFilename string  `json:"original_filename,omitempty"`
	MediaURL         string  `json:"media_url,omitempty"`
}

// SaveUpload stores an uploaded file as submissions/{uuid}/{name} and
// returns its path.
func (s *AnalysisService) SaveUpload(ctx context.Context, name string, src io.Reader) (string, error) {
	name = sanitizeFilename(name)
	dir := filepath.Join(s.cfg.SubmissionsDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create submission dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create submission file: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write submission file: %w", err)
	}
	logger.With(logger.Fields{"path": path}).WithSize(n).Debug(ctx, "Saved upload")
	return path, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// AnalyzeDeepfake runs the deepfake pipeline on path, persists the outcome
// and indexes the submission. frameRate <= 0 selects the configured default.
// A submission without faces is a successful analysis with Status no_faces.
func (s *AnalysisService) AnalyzeDeepfake(ctx context.Context, path, originalName string, frameRate float64) (*DeepfakeAnalysis, error) {
	if frameRate <= 0 {
		frameRate = s.cfg.DefaultFrameRate
	}
	result, err := s.deepfake.ProcessMedia(ctx, path, frameRate)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetIdentifier(ctx, result.FileID)
	s.resolveDeepfakeURLs(ctx, result)

	rec := &domain.DetectionRecord{
		OriginalFilename: originalName,
		MediaPath:        path,
	}
	if err := rec.ApplyDeepfakeResult(result); err != nil {
		return nil, fmt.Errorf("build detection record: %w", err)
	}
	rec.Metadata = s.extractMetadata(ctx, path, result.MediaType)
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("save detection record: %w", err)
	}
	ctx = logger.SetSubmissionID(ctx, rec.ID)
	s.index(ctx, rec)

	s.log(ctx).WithFields(logger.Fields{
		"status":      rec.Status,
		"is_deepfake": rec.IsDeepfake,
	}).Info("Deepfake analysis stored")
	return &DeepfakeAnalysis{Record: rec, Result: result}, nil
}

// AnalyzeAIImage classifies the image at path as human-made or
// AI-generated, persists the outcome and indexes the image. Videos are
// rejected with media.ErrUnsupportedFormat.
func (s *AnalysisService) AnalyzeAIImage(ctx context.Context, path, originalName string) (*AIImageAnalysis, error) {
	mediaType, err := s.checker.Check(ctx, path)
	if err != nil {
		return nil, err
	}
	if mediaType != domain.MediaTypeImage {
		return nil, fmt.Errorf("%s: %w: AI image detection needs an image", path, media.ErrUnsupportedFormat)
	}
	result, err := s.aiImage.ProcessImage(ctx, path)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetIdentifier(ctx, result.FileID)
	result.MediaURL = s.url(ctx, result.MediaPath)
	result.GradCAMURL = s.url(ctx, result.GradCAMPath)

	rec := &domain.DetectionRecord{
		OriginalFilename: originalName,
		MediaPath:        path,
	}
	if err := rec.ApplyAIImageResult(result); err != nil {
		return nil, fmt.Errorf("build detection record: %w", err)
	}
	rec.Metadata = s.extractMetadata(ctx, path, domain.MediaTypeImage)
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("save detection record: %w", err)
	}
	ctx = logger.SetSubmissionID(ctx, rec.ID)
	s.index(ctx, rec)

	s.log(ctx).WithFields(logger.Fields{
		"prediction": result.Label,
		"confidence": result.Confidence,
	}).Info("AI image analysis stored")
	return &AIImageAnalysis{Record: rec, Result: result}, nil
}

// AnalyzeText attributes text to a human or a language model and persists
// the outcome. Passages shorter than pipeline.MinTextLength fail with
// pipeline.ErrTextTooShort.
func (s *AnalysisService) AnalyzeText(ctx context.Context, text string, highlight bool) (*AITextAnalysis, error) {
	if s.aiText == nil {
		return nil, ErrTextDisabled
	}
	result, err := s.aiText.DetectText(ctx, text, highlight)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetIdentifier(ctx, result.Identifier)

	rec := &domain.DetectionRecord{}
	if err := rec.ApplyAITextResult(result, text); err != nil {
		return nil, fmt.Errorf("build detection record: %w", err)
	}
	rec.Metadata = domain.JSONMap{
		"Text:Characters": utf8.RuneCountInString(text),
		"Text:Words":      result.Words,
		"Text:Highlight":  highlight,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("save detection record: %w", err)
	}
	ctx = logger.SetSubmissionID(ctx, rec.ID)

	s.log(ctx).WithFields(logger.Fields{
		"prediction":      result.Source,
		"is_ai_generated": result.IsAIGenerated,
	}).Info("AI text analysis stored")
	return &AITextAnalysis{Record: rec, Result: result}, nil
}

// GetResult returns a stored detection record.
func (s *AnalysisService) GetResult(ctx context.Context, id string) (*domain.DetectionRecord, error) {
	return s.records.GetByID(ctx, id)
}

// FindSimilar lists earlier submissions whose fingerprint is closest to the
// one of record id. limit <= 0 selects the configured default.
func (s *AnalysisService) FindSimilar(ctx context.Context, id string, limit int) ([]SimilarSubmission, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	if limit <= 0 {
		limit = s.cfg.SimilarLimit
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PreviewPath == "" {
		return []SimilarSubmission{}, nil
	}
	img, err := media.LoadImage(rec.PreviewPath)
	if err != nil {
		return nil, fmt.Errorf("load preview: %w", err)
	}

	matches, err := s.archive.Similar(ctx, media.Fingerprint(img), limit, rec.Identifier)
	metrics.RecordArchive("search", err)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Entry.RecordID)
	}
	found, err := s.records.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.DetectionRecord, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	out := make([]SimilarSubmission, 0, len(matches))
	for _, m := range matches {
		sim := SimilarSubmission{
			RecordID:   m.Entry.RecordID,
			Identifier: m.Entry.Identifier,
			Purpose:    m.Entry.Purpose,
			MediaType:  m.Entry.MediaType,
			IsDeepfake: m.Entry.IsDeepfake,
			Score:      m.Score,
		}
		if r, ok := byID[m.Entry.RecordID]; ok {
			sim.OriginalFilename = r.OriginalFilename
			sim.MediaURL = s.url(ctx, r.MediaPath)
		}
		out = append(out, sim)
	}
	return out, nil
}

func (s *AnalysisService) extractMetadata(ctx context.Context, path string, mediaType domain.MediaType) domain.JSONMap {
	if s.metadata == nil {
		return domain.JSONMap{}
	}
	return s.metadata.Extract(ctx, path, mediaType)
}

// index stores the fingerprint of the record's preview image. Failures only
// cost similarity lookups and are logged.
func (s *AnalysisService) index(ctx context.Context, rec *domain.DetectionRecord) {
	if s.archive == nil || rec.PreviewPath == "" {
		return
	}
	img, err := media.LoadImage(rec.PreviewPath)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to load preview for archive")
		return
	}
	err = s.archive.Upsert(ctx, repository.ArchiveEntry{
		RecordID:   rec.ID,
		Identifier: rec.Identifier,
		Purpose:    rec.Purpose,
		MediaType:  string(rec.MediaType),
		IsDeepfake: rec.IsDeepfake,
	}, media.Fingerprint(img))
	metrics.RecordArchive("upsert", err)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to index submission")
	}
}

func (s *AnalysisService) resolveDeepfakeURLs(ctx context.Context, res *domain.MediaAnalysisResult) {
	res.MediaURL = s.url(ctx, res.MediaPath)
	for i := range res.FrameResults {
		fr := &res.FrameResults[i]
		fr.FrameURL = s.url(ctx, fr.FramePath)
		fr.GradCAMURL = s.url(ctx, fr.GradCAMPath)
		fr.ELAURL = s.url(ctx, fr.ELAPath)
		for j := range fr.CropAnalyses {
			fr.CropAnalyses[j].URL = s.url(ctx, fr.CropAnalyses[j].Path)
		}
	}
}

// url converts a local path to a public URL; "" for empty paths and on
// resolver errors.
func (s *AnalysisService) url(ctx context.Context, path string) string {
	if path == "" || s.resolver == nil {
		return ""
	}
	u, err := s.resolver.URL(ctx, path)
	if err != nil {
		s.log(ctx).WithField("path", path).WithError(err).Warn("Failed to resolve artifact URL")
		return ""
	}
	return u
}
