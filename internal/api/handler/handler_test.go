package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/pipeline"
	"github.com/timmy/dmi/internal/repository"
	"github.com/timmy/dmi/internal/service"
)

// MockAnalyzer is a testify mock of Analyzer.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) SaveUpload(ctx context.Context, name string, src io.Reader) (string, error) {
	body, _ := io.ReadAll(src)
	args := m.Called(name, string(body))
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeDeepfake(ctx context.Context, path, originalName string, frameRate float64) (*service.DeepfakeAnalysis, error) {
	args := m.Called(path, originalName, frameRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeepfakeAnalysis), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeAIImage(ctx context.Context, path, originalName string) (*service.AIImageAnalysis, error) {
	args := m.Called(path, originalName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AIImageAnalysis), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeText(ctx context.Context, text string, highlight bool) (*service.AITextAnalysis, error) {
	args := m.Called(text, highlight)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AITextAnalysis), args.Error(1)
}

func (m *MockAnalyzer) GetResult(ctx context.Context, id string) (*domain.DetectionRecord, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DetectionRecord), args.Error(1)
}

func (m *MockAnalyzer) FindSimilar(ctx context.Context, id string, limit int) ([]service.SimilarSubmission, error) {
	args := m.Called(id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.SimilarSubmission), args.Error(1)
}

func setupRouter(a Analyzer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAnalysisHandler(a, 1<<20)
	r.POST("/api/v1/deepfake/analyze", h.AnalyzeDeepfake)
	r.POST("/api/v1/ai-image/analyze", h.AnalyzeAIImage)
	r.POST("/api/v1/ai-text/analyze", h.AnalyzeText)
	r.GET("/api/v1/results/:id", h.GetResult)
	r.GET("/api/v1/results/:id/similar", h.GetSimilar)
	r.GET("/api/v1/response-codes", h.ResponseCodes)
	return r
}

func uploadRequest(t *testing.T, url, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAnalyzeDeepfakeCodes(t *testing.T) {
	completed := &service.DeepfakeAnalysis{
		Record: &domain.DetectionRecord{ID: "rec-1", IsDeepfake: true},
		Result: &domain.MediaAnalysisResult{Status: domain.AnalysisStatusCompleted, FileID: "1_2"},
	}
	noFaces := &service.DeepfakeAnalysis{
		Record: &domain.DetectionRecord{ID: "rec-2"},
		Result: &domain.MediaAnalysisResult{Status: domain.AnalysisStatusNoFaces, FileID: "3_4"},
	}

	tests := []struct {
		name       string
		out        *service.DeepfakeAnalysis
		err        error
		wantStatus int
		wantCode   string
	}{
		{"completed", completed, nil, http.StatusOK, "SUC001"},
		{"no faces", noFaces, nil, http.StatusOK, "USE001"},
		{"unsupported", nil, fmt.Errorf("x.txt: %w", media.ErrUnsupportedFormat), http.StatusBadRequest, "FIL006"},
		{"invalid video", nil, fmt.Errorf("x.mp4: %w", media.ErrInvalidVideo), http.StatusBadRequest, "FIL006"},
		{"missing file", nil, media.ErrFileNotFound, http.StatusBadRequest, "FIL001"},
		{"processing", nil, fmt.Errorf("%w: boom", pipeline.ErrAnalysisFailed), http.StatusInternalServerError, "FIL002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := new(MockAnalyzer)
			a.On("SaveUpload", "clip.mp4", "video-bytes").Return("/media/submissions/u/clip.mp4", nil)
			a.On("AnalyzeDeepfake", "/media/submissions/u/clip.mp4", "clip.mp4", 0.0).Return(tt.out, tt.err)

			w := httptest.NewRecorder()
			setupRouter(a).ServeHTTP(w, uploadRequest(t, "/api/v1/deepfake/analyze", "clip.mp4", "video-bytes", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body["code"])
			if tt.err == nil {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, tt.out.Record.ID, data["record"].(map[string]interface{})["id"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
			a.AssertExpectations(t)
		})
	}
}

func TestAnalyzeDeepfakeFrameRate(t *testing.T) {
	a := new(MockAnalyzer)
	a.On("SaveUpload", "a.jpg", "img").Return("/tmp/a.jpg", nil)
	a.On("AnalyzeDeepfake", "/tmp/a.jpg", "a.jpg", 5.0).Return(&service.DeepfakeAnalysis{
		Record: &domain.DetectionRecord{ID: "r"},
		Result: &domain.MediaAnalysisResult{Status: domain.AnalysisStatusCompleted},
	}, nil)

	w := httptest.NewRecorder()
	setupRouter(a).ServeHTTP(w, uploadRequest(t, "/api/v1/deepfake/analyze", "a.jpg", "img", map[string]string{"frame_rate": "5"}))
	assert.Equal(t, http.StatusOK, w.Code)
	a.AssertExpectations(t)

	w = httptest.NewRecorder()
	setupRouter(a).ServeHTTP(w, uploadRequest(t, "/api/v1/deepfake/analyze", "a.jpg", "img", map[string]string{"frame_rate": "-1"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SYS001", decode(t, w)["code"])
}

func TestAnalyzeMissingFile(t *testing.T) {
	a := new(MockAnalyzer)
	w := httptest.NewRecorder()
	setupRouter(a).ServeHTTP(w, uploadRequest(t, "/api/v1/ai-image/analyze", "", "", map[string]string{"x": "y"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "FIL001", decode(t, w)["code"])
	a.AssertNotCalled(t, "SaveUpload", mock.Anything, mock.Anything)
}

func TestAnalyzeAIImage(t *testing.T) {
	a := new(MockAnalyzer)
	a.On("SaveUpload", "gen.png", "png").Return("/tmp/gen.png", nil)
	a.On("AnalyzeAIImage", "/tmp/gen.png", "gen.png").Return(&service.AIImageAnalysis{
		Record: &domain.DetectionRecord{ID: "ai-1", Purpose: domain.PurposeAIImage},
		Result: &domain.AIImageResult{Label: domain.LabelFake, Confidence: 0.9},
	}, nil)

	w := httptest.NewRecorder()
	setupRouter(a).ServeHTTP(w, uploadRequest(t, "/api/v1/ai-image/analyze", "gen.png", "png", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "SUC001", body["code"])
	result := body["data"].(map[string]interface{})["result"].(map[string]interface{})
	assert.Equal(t, "fake", result["prediction"])
}

func TestAnalyzeText(t *testing.T) {
	const passage = "A passage that is comfortably longer than fifty characters in total."
	marked := "A {passage}"
	analysis := &service.AITextAnalysis{
		Record: &domain.DetectionRecord{ID: "txt-1", Purpose: domain.PurposeAIText},
		Result: &domain.AITextResult{
			Identifier:      "text_123456",
			IsAIGenerated:   true,
			Source:          "GPT-3",
			Confidence:      map[string]float64{"Human": 0.2, "GPT-3": 0.8},
			HighlightedText: &marked,
		},
	}

	tests := []struct {
		name       string
		body       string
		setup      func(a *MockAnalyzer)
		wantStatus int
		wantCode   string
	}{
		{
			name: "highlighted",
			body: `{"text":"` + passage + `","highlight":true}`,
			setup: func(a *MockAnalyzer) {
				a.On("AnalyzeText", passage, true).Return(analysis, nil)
			},
			wantStatus: http.StatusOK,
			wantCode:   "SUC001",
		},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest, wantCode: "TXT001"},
		{name: "text missing", body: `{"highlight":true}`, wantStatus: http.StatusBadRequest, wantCode: "TXT001"},
		{name: "highlight missing", body: `{"text":"` + passage + `"}`, wantStatus: http.StatusBadRequest, wantCode: "TXT004"},
		{name: "malformed", body: `{"text":`, wantStatus: http.StatusBadRequest, wantCode: "SYS001"},
		{
			name: "too short",
			body: `{"text":"tiny","highlight":false}`,
			setup: func(a *MockAnalyzer) {
				a.On("AnalyzeText", "tiny", false).Return(nil, pipeline.ErrTextTooShort)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "TXT003",
		},
		{
			name: "disabled",
			body: `{"text":"` + passage + `","highlight":false}`,
			setup: func(a *MockAnalyzer) {
				a.On("AnalyzeText", passage, false).Return(nil, service.ErrTextDisabled)
			},
			wantStatus: http.StatusNotImplemented,
			wantCode:   "SYS005",
		},
		{
			name: "model failure",
			body: `{"text":"` + passage + `","highlight":false}`,
			setup: func(a *MockAnalyzer) {
				a.On("AnalyzeText", passage, false).Return(nil, errors.New("model server returned status 503"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "TXT002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := new(MockAnalyzer)
			if tt.setup != nil {
				tt.setup(a)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/ai-text/analyze", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			setupRouter(a).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body["code"])
			if tt.wantStatus == http.StatusOK {
				result := body["data"].(map[string]interface{})["result"].(map[string]interface{})
				assert.Equal(t, true, result["is_ai_generated"])
				assert.Equal(t, "GPT-3", result["source_prediction"])
				assert.Equal(t, marked, result["highlighted_text"])
				assert.Nil(t, result["html_text"])
			}
			a.AssertExpectations(t)
		})
	}
}

func TestGetResult(t *testing.T) {
	a := new(MockAnalyzer)
	a.On("GetResult", "found").Return(&domain.DetectionRecord{ID: "found", Identifier: "1_2"}, nil)
	a.On("GetResult", "missing").Return(nil, repository.ErrNotFound)
	a.On("GetResult", "broken").Return(nil, errors.New("db down"))
	r := setupRouter(a)

	tests := []struct {
		id         string
		wantStatus int
		wantCode   string
	}{
		{"found", http.StatusOK, "SUC001"},
		{"missing", http.StatusNotFound, "SYS003"},
		{"broken", http.StatusInternalServerError, "SYS002"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/"+tt.id, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode(t, w)["code"])
		})
	}
}

func TestGetSimilar(t *testing.T) {
	a := new(MockAnalyzer)
	a.On("FindSimilar", "rec", 3).Return([]service.SimilarSubmission{{RecordID: "other", Score: 0.9}}, nil)
	a.On("FindSimilar", "rec", 0).Return(nil, service.ErrArchiveDisabled)
	r := setupRouter(a)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/rec/similar?limit=3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/rec/similar", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/rec/similar?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseCodes(t *testing.T) {
	w := httptest.NewRecorder()
	setupRouter(new(MockAnalyzer)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/response-codes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "USE001", body["MEDIA_CONTAINS_NO_FACES"].(map[string]interface{})["code"])
	assert.Equal(t, "TXT003", body["TEXT_TOO_SHORT"].(map[string]interface{})["code"])
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}).Health)
	r.GET("/bad", NewHealthHandler(map[string]HealthCheck{
		"database":     func(context.Context) error { return nil },
		"model_server": func(context.Context) error { return errors.New("breaker open") },
	}).Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "breaker open", body["checks"].(map[string]interface{})["model_server"])
}
