package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// NoFacesVerdict is stored in the report of submissions without faces.
const NoFacesVerdict = "MEDIA_CONTAINS_NO_FACES"

// Purpose values recorded on DetectionRecord.
const (
	PurposeDeepfake = "deepfake"
	PurposeAIImage  = "ai_image"
	PurposeAIText   = "ai_text"
)

// JSONMap stores an arbitrary JSON object in a text column.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// DetectionRecord is the persisted outcome of one analysis request.
type DetectionRecord struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	Identifier       string    `gorm:"type:text;index:idx_detection_identifier" json:"file_identifier"`
	OriginalFilename string    `gorm:"type:text" json:"original_filename"`
	MediaPath        string    `gorm:"type:text" json:"media_path"`
	PreviewPath      string    `gorm:"type:text" json:"preview_path,omitempty"`
	MediaType        MediaType `gorm:"type:text" json:"media_type"`
	Purpose          string    `gorm:"type:text;index:idx_detection_purpose" json:"purpose"`
	Status           string    `gorm:"type:text" json:"status"`
	IsDeepfake       bool      `json:"is_deepfake"`
	ConfidenceScore  float64   `json:"confidence_score"`
	FramesAnalyzed   int       `json:"frames_analyzed"`
	FakeFrames       int       `json:"fake_frames"`
	AnalysisReport   JSONMap   `gorm:"type:text" json:"analysis_report"`
	Metadata         JSONMap   `gorm:"type:text" json:"metadata"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (DetectionRecord) TableName() string {
	return "detection_results"
}

// ApplyDeepfakeResult copies the persisted fields of a pipeline result onto
// the record. A no-faces result yields the zero verdict and a short report.
func (r *DetectionRecord) ApplyDeepfakeResult(res *MediaAnalysisResult) error {
	r.Purpose = PurposeDeepfake
	r.Identifier = res.Identifier.String()
	r.MediaType = res.MediaType
	r.Status = string(res.Status)
	if res.NoFaces() {
		r.IsDeepfake = false
		r.ConfidenceScore = 0
		r.FramesAnalyzed = 0
		r.FakeFrames = 0
		r.AnalysisReport = JSONMap{
			"final_verdict":   NoFacesVerdict,
			"file_identifier": res.Identifier.String(),
		}
		return nil
	}
	report, err := toJSONMap(res)
	if err != nil {
		return err
	}
	r.IsDeepfake = res.Statistics.IsDeepfake
	r.ConfidenceScore = res.Statistics.Confidence
	r.FramesAnalyzed = res.Statistics.TotalFrames
	r.FakeFrames = res.Statistics.FakeFrames
	r.AnalysisReport = report
	if len(res.FrameResults) > 0 {
		r.PreviewPath = res.FrameResults[0].FramePath
	}
	return nil
}

// ApplyAIImageResult copies the AI-generated detector output onto the record.
func (r *DetectionRecord) ApplyAIImageResult(res *AIImageResult) error {
	report, err := toJSONMap(res)
	if err != nil {
		return err
	}
	r.Purpose = PurposeAIImage
	r.Identifier = res.Identifier.String()
	r.MediaType = MediaTypeImage
	r.Status = string(AnalysisStatusCompleted)
	r.IsDeepfake = res.Label == LabelFake
	r.ConfidenceScore = res.Confidence
	r.FramesAnalyzed = 1
	if r.IsDeepfake {
		r.FakeFrames = 1
	}
	r.AnalysisReport = report
	r.PreviewPath = res.MediaPath
	return nil
}

// ApplyAITextResult copies the text detector output onto the record. The
// submitted text is kept in the report since there is no media file.
func (r *DetectionRecord) ApplyAITextResult(res *AITextResult, text string) error {
	report, err := toJSONMap(res)
	if err != nil {
		return err
	}
	report["text"] = text
	r.Purpose = PurposeAIText
	r.Identifier = res.Identifier
	r.MediaType = MediaTypeText
	r.Status = string(AnalysisStatusCompleted)
	r.IsDeepfake = res.IsAIGenerated
	r.ConfidenceScore = res.Confidence[res.Source]
	r.FramesAnalyzed = 0
	r.FakeFrames = 0
	r.AnalysisReport = report
	return nil
}

func toJSONMap(v interface{}) (JSONMap, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := JSONMap{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
