package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldSubmissionID is the persisted analysis record ID
	FieldSubmissionID = "submission_id"

	// FieldIdentifier is the media identifier ({content}_{name})
	FieldIdentifier = "file_identifier"

	// FieldStage is the pipeline stage currently running
	FieldStage = "stage"

	// FieldMediaType is Image or Video
	FieldMediaType = "media_type"

	// FieldModel is the classifier or detector name
	FieldModel = "model"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldFrameIndex is the frame index inside a submission
	FieldFrameIndex = "frame_index"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldFrames is the number of frames analysed
	FieldFrames = "frames"

	// FieldCrops is the number of face crops analysed
	FieldCrops = "crops"
)
