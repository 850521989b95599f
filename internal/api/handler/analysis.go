package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dmi/internal/api/middleware"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/pipeline"
	"github.com/timmy/dmi/internal/repository"
	"github.com/timmy/dmi/internal/service"
)

// Analyzer is the part of service.AnalysisService the handlers use.
type Analyzer interface {
	SaveUpload(ctx context.Context, name string, src io.Reader) (string, error)
	AnalyzeDeepfake(ctx context.Context, path, originalName string, frameRate float64) (*service.DeepfakeAnalysis, error)
	AnalyzeAIImage(ctx context.Context, path, originalName string) (*service.AIImageAnalysis, error)
	AnalyzeText(ctx context.Context, text string, highlight bool) (*service.AITextAnalysis, error)
	GetResult(ctx context.Context, id string) (*domain.DetectionRecord, error)
	FindSimilar(ctx context.Context, id string, limit int) ([]service.SimilarSubmission, error)
}

// AnalysisHandler serves the detection endpoints.
type AnalysisHandler struct {
	analyzer  Analyzer
	maxUpload int64
}

// NewAnalysisHandler creates a handler accepting uploads up to maxUploadBytes.
func NewAnalysisHandler(analyzer Analyzer, maxUploadBytes int64) *AnalysisHandler {
	return &AnalysisHandler{analyzer: analyzer, maxUpload: maxUploadBytes}
}

// AnalyzeDeepfake handles POST /api/v1/deepfake/analyze.
//
// Form fields: file (required), frame_rate (optional, frames per second).
// A submission without faces is answered with 200 and code USE001.
func (h *AnalysisHandler) AnalyzeDeepfake(c *gin.Context) {
	frameRate := 0.0
	if v := c.PostForm("frame_rate"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("frame_rate must be a positive number"))
			return
		}
		frameRate = f
	}

	path, name, ok := h.receive(c)
	if !ok {
		return
	}
	out, err := h.analyzer.AnalyzeDeepfake(c.Request.Context(), path, name, frameRate)
	if err != nil {
		h.analysisError(c, err)
		return
	}

	code := CodeSuccess
	if out.Result.NoFaces() {
		code = CodeNoFaces
	}
	respond(c, http.StatusOK, code, gin.H{
		"record": out.Record,
		"result": out.Result,
	})
}

// AnalyzeAIImage handles POST /api/v1/ai-image/analyze.
func (h *AnalysisHandler) AnalyzeAIImage(c *gin.Context) {
	path, name, ok := h.receive(c)
	if !ok {
		return
	}
	out, err := h.analyzer.AnalyzeAIImage(c.Request.Context(), path, name)
	if err != nil {
		h.analysisError(c, err)
		return
	}
	respond(c, http.StatusOK, CodeSuccess, gin.H{
		"record": out.Record,
		"result": out.Result,
	})
}

type analyzeTextRequest struct {
	Text      *string `json:"text"`
	Highlight *bool   `json:"highlight"`
}

// AnalyzeText handles POST /api/v1/ai-text/analyze.
//
// JSON body: {"text": "...", "highlight": true}. Both fields are required;
// highlighted_text and html_text are null when highlight is false.
func (h *AnalysisHandler) AnalyzeText(c *gin.Context) {
	var req analyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	if req.Text == nil {
		respondError(c, http.StatusBadRequest, CodeTextMissing, errors.New("text parameter missing"))
		return
	}
	if req.Highlight == nil {
		respondError(c, http.StatusBadRequest, CodeHighlightMissing, errors.New("highlight parameter missing"))
		return
	}

	out, err := h.analyzer.AnalyzeText(c.Request.Context(), *req.Text, *req.Highlight)
	switch {
	case errors.Is(err, pipeline.ErrTextTooShort):
		respondError(c, http.StatusBadRequest, CodeTextTooShort, err)
		return
	case errors.Is(err, service.ErrTextDisabled):
		respondError(c, http.StatusNotImplemented, CodeUnavailable, err)
		return
	case err != nil:
		middleware.GetLogger(c).WithError(err).Error("Text analysis failed")
		respondError(c, http.StatusInternalServerError, CodeTextProcessing, err)
		return
	}
	respond(c, http.StatusOK, CodeSuccess, gin.H{
		"record": out.Record,
		"result": out.Result,
	})
}

// GetResult handles GET /api/v1/results/:id.
func (h *AnalysisHandler) GetResult(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, CodeIdentifier, nil)
		return
	}
	rec, err := h.analyzer.GetResult(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, CodeNotFound, err)
		return
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load result")
		respondError(c, http.StatusInternalServerError, CodeServerError, err)
		return
	}
	respond(c, http.StatusOK, CodeSuccess, rec)
}

// GetSimilar handles GET /api/v1/results/:id/similar?limit=N.
func (h *AnalysisHandler) GetSimilar(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("limit must be in [1,100]"))
			return
		}
		limit = n
	}

	similar, err := h.analyzer.FindSimilar(c.Request.Context(), c.Param("id"), limit)
	switch {
	case errors.Is(err, service.ErrArchiveDisabled):
		respondError(c, http.StatusNotImplemented, CodeUnavailable, err)
		return
	case errors.Is(err, repository.ErrNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, err)
		return
	case err != nil:
		middleware.GetLogger(c).WithError(err).Error("Similarity search failed")
		respondError(c, http.StatusInternalServerError, CodeServerError, err)
		return
	}
	respond(c, http.StatusOK, CodeSuccess, gin.H{
		"results": similar,
		"total":   len(similar),
	})
}

// ResponseCodes handles GET /api/v1/response-codes.
func (h *AnalysisHandler) ResponseCodes(c *gin.Context) {
	c.JSON(http.StatusOK, responseCodes)
}

// receive stores the multipart "file" field and returns its path and
// original name. On failure the response is already written.
func (h *AnalysisHandler) receive(c *gin.Context) (path, name string, ok bool) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeFileUpload, err)
		return "", "", false
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeFileUpload, err)
		return "", "", false
	}
	defer f.Close()

	path, err = h.analyzer.SaveUpload(c.Request.Context(), fh.Filename, f)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to store upload")
		respondError(c, http.StatusInternalServerError, CodeFileUpload, err)
		return "", "", false
	}
	return path, fh.Filename, true
}

func (h *AnalysisHandler) analysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, media.ErrFileNotFound):
		respondError(c, http.StatusBadRequest, CodeFileUpload, err)
	case errors.Is(err, media.ErrUnsupportedFormat),
		errors.Is(err, media.ErrInvalidImage),
		errors.Is(err, media.ErrInvalidVideo):
		respondError(c, http.StatusBadRequest, CodeUnsupportedType, err)
	default:
		middleware.GetLogger(c).WithError(err).Error("Media analysis failed")
		respondError(c, http.StatusInternalServerError, CodeProcessing, err)
	}
}
