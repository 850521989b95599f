package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/dmi/internal/domain"
	_ "golang.org/x/image/webp"
)

var (
	ErrFileNotFound      = errors.New("file does not exist")
	ErrInvalidImage      = errors.New("invalid image file")
	ErrInvalidVideo      = errors.New("invalid video file")
	ErrUnsupportedFormat = errors.New("not a supported image or video format")
)

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

// IsInputError reports whether err is one of the type-check failures.
func IsInputError(err error) bool {
	return errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrInvalidImage) ||
		errors.Is(err, ErrInvalidVideo) ||
		errors.Is(err, ErrUnsupportedFormat)
}

// StatusMessage returns the user-facing status text for a type-check result.
func StatusMessage(mediaType domain.MediaType, err error) string {
	switch {
	case err == nil:
		return string(mediaType)
	case errors.Is(err, ErrFileNotFound):
		return "File does not exist"
	case errors.Is(err, ErrInvalidImage):
		return "Invalid image file"
	case errors.Is(err, ErrInvalidVideo):
		return "Invalid video file"
	default:
		return "Not a supported image or video format"
	}
}

// TypeChecker classifies a file as image or video and verifies that its
// content can actually be decoded.
type TypeChecker struct {
	videos VideoSource
}

// NewTypeChecker creates a TypeChecker. videos may be nil, in which case
// video files are only verified by content sniffing.
func NewTypeChecker(videos VideoSource) *TypeChecker {
	return &TypeChecker{videos: videos}
}

// Check returns the media type of path.
func (c *TypeChecker) Check(ctx context.Context, path string) (domain.MediaType, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExtensions[ext]:
		if _, err := imaging.Open(path); err != nil {
			return "", fmt.Errorf("%s: %w: %v", path, ErrInvalidImage, err)
		}
		return domain.MediaTypeImage, nil
	case videoExtensions[ext]:
		mtype, err := mimetype.DetectFile(path)
		if err != nil || !strings.HasPrefix(mtype.String(), "video/") {
			return "", fmt.Errorf("%s: %w", path, ErrInvalidVideo)
		}
		if c.videos != nil {
			if _, err := c.videos.Probe(ctx, path); err != nil {
				return "", fmt.Errorf("%s: %w: %v", path, ErrInvalidVideo, err)
			}
		}
		return domain.MediaTypeVideo, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// IsImageExt reports whether ext (with dot) is an accepted image extension.
func IsImageExt(ext string) bool {
	return imageExtensions[strings.ToLower(ext)]
}
