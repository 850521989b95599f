package domain

import (
	"fmt"
	"image"
)

// MediaType is the detected kind of a submitted file.
type MediaType string

const (
	MediaTypeImage MediaType = "Image"
	MediaTypeVideo MediaType = "Video"
	MediaTypeText  MediaType = "Text"
)

// Label is the binary verdict produced by every classifier in the system.
type Label string

const (
	LabelReal Label = "real"
	LabelFake Label = "fake"
)

// AnalysisStatus distinguishes a completed analysis from the no-faces outcome.
type AnalysisStatus string

const (
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusNoFaces   AnalysisStatus = "no_faces"
)

// MediaIdentifier is the content+filename hash pair that names every artifact
// derived from a submission.
type MediaIdentifier struct {
	ContentHash string `json:"content_hash"`
	NameHash    string `json:"name_hash"`
}

// String returns the "{content}_{name}" form used as artifact prefix.
func (id MediaIdentifier) String() string {
	return fmt.Sprintf("%s_%s", id.ContentHash, id.NameHash)
}

// Detection is a single accepted person box. It is never persisted.
type Detection struct {
	TopLeft     image.Point
	BottomRight image.Point
	Score       float64
}

// Width returns the box width in pixels.
func (d Detection) Width() int { return d.BottomRight.X - d.TopLeft.X }

// Height returns the box height in pixels.
func (d Detection) Height() int { return d.BottomRight.Y - d.TopLeft.Y }

// Prediction is the output of a binary image classifier.
type Prediction struct {
	Label      Label   `json:"prediction"`
	Confidence float64 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
}

// IsFake reports whether the prediction is the fake label.
func (p Prediction) IsFake() bool { return p.Label == LabelFake }

// CropAnalysis is the crop classifier's verdict for one face crop.
type CropAnalysis struct {
	FaceIndex  int     `json:"face_index"`
	Prediction Label   `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Path       string  `json:"crop_path"`
	URL        string  `json:"crop_url,omitempty"`
}

// FrameResult is the analysis of one saved frame and the crops taken from it.
type FrameResult struct {
	FrameID       string         `json:"frame_id"`
	FrameIndex    int            `json:"frame_index"`
	FramePath     string         `json:"frame_path"`
	FrameURL      string         `json:"frame_url,omitempty"`
	GradCAMPath   string         `json:"gradcam_path,omitempty"`
	GradCAMURL    string         `json:"gradcam_url,omitempty"`
	ELAPath       string         `json:"ela_path,omitempty"`
	ELAURL        string         `json:"ela_url,omitempty"`
	FrameAnalysis Prediction     `json:"frame_analysis"`
	CropAnalyses  []CropAnalysis `json:"crop_analyses"`
	FinalVerdict  Label          `json:"final_verdict"`
}

// FakeCrops counts crops classified as fake.
func (f FrameResult) FakeCrops() int {
	n := 0
	for _, c := range f.CropAnalyses {
		if c.Prediction == LabelFake {
			n++
		}
	}
	return n
}

// Statistics aggregates frame results into the submission-level verdict.
type Statistics struct {
	Confidence           float64 `json:"confidence"`
	IsDeepfake           bool    `json:"is_deepfake"`
	TotalFrames          int     `json:"total_frames"`
	FakeFrames           int     `json:"fake_frames"`
	FakeFramesPercentage float64 `json:"fake_frames_percentage"`
	TotalCrops           int     `json:"total_crops"`
	FakeCrops            int     `json:"fake_crops"`
	FakeCropsPercentage  float64 `json:"fake_crops_percentage"`
}

// MediaAnalysisResult is the report returned by the deepfake pipeline.
type MediaAnalysisResult struct {
	Status       AnalysisStatus  `json:"status"`
	MediaPath    string          `json:"media_path"`
	MediaURL     string          `json:"media_url,omitempty"`
	MediaType    MediaType       `json:"media_type"`
	Identifier   MediaIdentifier `json:"-"`
	FileID       string          `json:"file_identifier"`
	FrameResults []FrameResult   `json:"frame_results"`
	Statistics   Statistics      `json:"statistics"`
}

// NoFaces reports whether the submission ended without any detected face.
func (r *MediaAnalysisResult) NoFaces() bool {
	return r != nil && r.Status == AnalysisStatusNoFaces
}

// AIImageResult is the report returned by the AI-generated image detector.
type AIImageResult struct {
	Identifier  MediaIdentifier `json:"-"`
	FileID      string          `json:"file_identifier"`
	MediaPath   string          `json:"media_path"`
	MediaURL    string          `json:"media_url,omitempty"`
	Label       Label           `json:"prediction"`
	Confidence  float64         `json:"confidence"`
	GradCAMPath string          `json:"gradcam_path,omitempty"`
	GradCAMURL  string          `json:"gradcam_url,omitempty"`
	TargetLayer string          `json:"target_layer,omitempty"`
	Strategy    string          `json:"layer_strategy,omitempty"`
}

// TextPrediction is the output of the text source classifier for one
// passage.
type TextPrediction struct {
	Source        string             `json:"source_prediction"`
	Probabilities map[string]float64 `json:"confidence_scores"`
	// AIProbability sums the probabilities of every non-human source.
	AIProbability float64 `json:"ai_probability"`
	IsAIGenerated bool    `json:"is_ai_generated"`
}

// AITextResult is the report returned by the AI-generated text detector.
// HighlightedText marks AI-looking words as {word}; HTMLText wraps them in
// <span class="ai-generated">. Both are nil unless highlighting was
// requested.
type AITextResult struct {
	Identifier      string             `json:"submission_identifier"`
	IsAIGenerated   bool               `json:"is_ai_generated"`
	Source          string             `json:"source_prediction"`
	Confidence      map[string]float64 `json:"confidence_scores"`
	AIProbability   float64            `json:"ai_probability"`
	Words           int                `json:"word_count"`
	Windows         int                `json:"windows_analyzed,omitempty"`
	HighlightedText *string            `json:"highlighted_text"`
	HTMLText        *string            `json:"html_text"`
}
