package pipeline

import (
	"context"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metrics"
)

// DefaultCropSize is the edge of every saved face crop.
const DefaultCropSize = 256

// CropExtractor cuts square crops around detections.
type CropExtractor struct {
	writer *media.ArtifactWriter
	size   int
}

// NewCropExtractor creates an extractor saving size×size crops.
func NewCropExtractor(writer *media.ArtifactWriter, size int) *CropExtractor {
	if size <= 0 {
		size = DefaultCropSize
	}
	return &CropExtractor{writer: writer, size: size}
}

// SquareRegion returns the square of side max(w,h) centred on the box,
// clipped to bounds.
func SquareRegion(det domain.Detection, bounds image.Rectangle) image.Rectangle {
	side := det.Width()
	if h := det.Height(); h > side {
		side = h
	}
	cx := (det.TopLeft.X + det.BottomRight.X) / 2
	cy := (det.TopLeft.Y + det.BottomRight.Y) / 2
	r := image.Rect(cx-side/2, cy-side/2, cx+side/2, cy+side/2)
	return r.Intersect(bounds)
}

// Crop returns the resized crop for one detection, or false when the
// region is empty.
func (e *CropExtractor) Crop(img image.Image, det domain.Detection) (image.Image, bool) {
	region := SquareRegion(det, img.Bounds())
	if region.Empty() {
		return nil, false
	}
	return imaging.Resize(imaging.Crop(img, region), e.size, e.size, imaging.CatmullRom), true
}

// Extract saves one crop per detection of frame as
// "{id}_{frame}_{crop}.{ext}" under dir and returns how many exist.
func (e *CropExtractor) Extract(ctx context.Context, img image.Image, dets map[int]domain.Detection, id string, frame int, dir, ext string) int {
	saved := 0
	for _, key := range sortedKeys(dets) {
		path := filepath.Join(dir, CropName(id, frame, key, ext))
		created, err := e.writer.Render(path, func() (image.Image, error) {
			crop, ok := e.Crop(img, dets[key])
			if !ok {
				return nil, errEmptyRegion
			}
			return crop, nil
		})
		if err != nil {
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldFrameIndex: frame,
				"face_index":           key,
			}).WithError(err).Warn("Skipping face crop")
			continue
		}
		metrics.RecordArtifact("crop", created)
		saved++
	}
	return saved
}
