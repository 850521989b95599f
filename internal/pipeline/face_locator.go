package pipeline

import (
	"context"
	"image"
	"sort"

	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/inference"
	"github.com/timmy/dmi/internal/logger"
)

// DefaultFaceThreshold is the minimum detector score, exclusive.
const DefaultFaceThreshold = 0.4

// FaceLocator keeps the person boxes an object detector reports above a
// score threshold.
type FaceLocator struct {
	detector  inference.ObjectDetector
	threshold float64
	classID   int
}

// NewFaceLocator creates a locator accepting boxes of classID scored
// strictly above threshold.
func NewFaceLocator(detector inference.ObjectDetector, threshold float64, classID int) *FaceLocator {
	return &FaceLocator{detector: detector, threshold: threshold, classID: classID}
}

// Locate returns accepted detections keyed by the detector's output index,
// and whether any were found. Detector failures count as no detection.
func (l *FaceLocator) Locate(ctx context.Context, img image.Image) (map[int]domain.Detection, bool) {
	objects, err := l.detector.Detect(ctx, img)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Face detection failed")
		return nil, false
	}

	found := make(map[int]domain.Detection)
	for i, obj := range objects {
		if obj.Class != l.classID || obj.Score <= l.threshold {
			continue
		}
		found[i] = domain.Detection{
			TopLeft:     image.Pt(int(obj.Box[0]), int(obj.Box[1])),
			BottomRight: image.Pt(int(obj.Box[2]), int(obj.Box[3])),
			Score:       obj.Score,
		}
	}
	if len(found) == 0 {
		return nil, false
	}
	return found, true
}

// sortedKeys returns detection indices in ascending order.
func sortedKeys(dets map[int]domain.Detection) []int {
	keys := make([]int, 0, len(dets))
	for k := range dets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
