package handler

import (
	"github.com/gin-gonic/gin"
)

// ResponseCode is the stable code/message pair carried by every API reply.
type ResponseCode struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response codes. Clients switch on Code; HTTP status only separates client
// errors from server errors.
var (
	CodeSuccess         = ResponseCode{"SUC001", "Success"}
	CodeFileUpload      = ResponseCode{"FIL001", "Error uploading file."}
	CodeProcessing      = ResponseCode{"FIL002", "Error processing media file."}
	CodeIdentifier      = ResponseCode{"FIL003", "File identifier is required."}
	CodeUnsupportedType = ResponseCode{"FIL006", "This file type is not supported."}
	CodeNoFaces         = ResponseCode{"USE001", "Media file contains no faces."}
	CodeFileNotFound    = ResponseCode{"USE007", "File not found."}
	CodeInvalidRequest  = ResponseCode{"SYS001", "Invalid request parameters."}
	CodeServerError     = ResponseCode{"SYS002", "An unexpected server error occurred."}
	CodeNotFound        = ResponseCode{"SYS003", "The requested resource was not found."}
	CodeUnavailable     = ResponseCode{"SYS005", "The requested feature is not enabled."}

	CodeTextMissing      = ResponseCode{"TXT001", "No text provided for analysis."}
	CodeTextProcessing   = ResponseCode{"TXT002", "Error processing text for AI analysis."}
	CodeTextTooShort     = ResponseCode{"TXT003", "Provided text is too short for reliable analysis."}
	CodeHighlightMissing = ResponseCode{"TXT004", "No highlight parameter provided."}
)

// responseCodes is served by GET /api/v1/response-codes, keyed by name.
var responseCodes = map[string]ResponseCode{
	"SUCCESS":                  CodeSuccess,
	"FILE_UPLOAD_ERROR":        CodeFileUpload,
	"MEDIA_PROCESSING_ERROR":   CodeProcessing,
	"FILE_IDENTIFIER_REQUIRED": CodeIdentifier,
	"UNSUPPORTED_FILE_TYPE":    CodeUnsupportedType,
	"MEDIA_CONTAINS_NO_FACES":  CodeNoFaces,
	"FILE_NOT_FOUND":           CodeFileNotFound,
	"INVALID_REQUEST":          CodeInvalidRequest,
	"SERVER_ERROR":             CodeServerError,
	"NOT_FOUND":                CodeNotFound,
	"FEATURE_DISABLED":         CodeUnavailable,
	"TEXT_MISSING":             CodeTextMissing,
	"TEXT_PROCESSING_ERROR":    CodeTextProcessing,
	"TEXT_TOO_SHORT":           CodeTextTooShort,
	"HIGHLIGHT_MISSING":        CodeHighlightMissing,
}

// Envelope is the JSON body of every API reply.
type Envelope struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, code ResponseCode, data interface{}) {
	c.JSON(status, Envelope{Code: code.Code, Message: code.Message, Data: data})
}

func respondError(c *gin.Context, status int, code ResponseCode, err error) {
	env := Envelope{Code: code.Code, Message: code.Message}
	if err != nil {
		env.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, env)
}
