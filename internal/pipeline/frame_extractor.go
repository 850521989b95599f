package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"sync"

	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
	"github.com/timmy/dmi/internal/metrics"
)

// Mode selects what FrameExtractor saves for frames with a face.
type Mode int

const (
	// ModeFrames saves the whole frame.
	ModeFrames Mode = iota
	// ModeCrops saves one crop per detected face.
	ModeCrops
)

func (m Mode) String() string {
	if m == ModeCrops {
		return "crops"
	}
	return "frames"
}

// Submission is one media file being analyzed. It carries the detections
// found during the frames pass so the crops pass does not detect again.
type Submission struct {
	Path string
	Type domain.MediaType
	ID   string

	mu         sync.Mutex
	detections map[int]map[int]domain.Detection
}

// NewSubmission creates a submission for an already type-checked file.
func NewSubmission(path string, mediaType domain.MediaType, id string) *Submission {
	return &Submission{Path: path, Type: mediaType, ID: id}
}

func (s *Submission) remembered(decodeIndex int) (map[int]domain.Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dets, ok := s.detections[decodeIndex]
	return dets, ok
}

func (s *Submission) remember(decodeIndex int, dets map[int]domain.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detections == nil {
		s.detections = make(map[int]map[int]domain.Detection)
	}
	s.detections[decodeIndex] = dets
}

// FrameExtractor samples frames from media and saves those showing a face.
type FrameExtractor struct {
	locator *FaceLocator
	crops   *CropExtractor
	videos  media.VideoSource
	writer  *media.ArtifactWriter
	ext     string
}

// NewFrameExtractor wires the extractor's collaborators. ext is the
// artifact file extension without the dot.
func NewFrameExtractor(locator *FaceLocator, crops *CropExtractor, videos media.VideoSource, writer *media.ArtifactWriter, ext string) *FrameExtractor {
	return &FrameExtractor{locator: locator, crops: crops, videos: videos, writer: writer, ext: ext}
}

// FrameInterval returns how many decoded frames separate two samples.
func FrameInterval(fps, frameRate float64) int {
	if frameRate <= 0 {
		return 1
	}
	interval := int(fps / frameRate)
	if interval < 1 {
		return 1
	}
	return interval
}

// Extract runs one pass over the submission and reports whether any face
// was found. Frames with a face are numbered densely from 0 in decode order.
func (e *FrameExtractor) Extract(ctx context.Context, sub *Submission, outputDir string, frameRate float64, mode Mode) (bool, error) {
	switch sub.Type {
	case domain.MediaTypeImage:
		return e.extractImage(ctx, sub, outputDir, mode)
	case domain.MediaTypeVideo:
		return e.extractVideo(ctx, sub, outputDir, frameRate, mode)
	}
	return false, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, sub.Type)
}

func (e *FrameExtractor) extractImage(ctx context.Context, sub *Submission, outputDir string, mode Mode) (bool, error) {
	img, err := media.LoadImage(sub.Path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", media.ErrInvalidImage, err)
	}
	dets, ok := e.detect(ctx, sub, 0, img)
	if !ok {
		logger.FromContext(ctx).Info("No face detected in image")
		return false, nil
	}
	e.emit(ctx, sub, img, dets, 0, outputDir, mode)
	return true, nil
}

func (e *FrameExtractor) extractVideo(ctx context.Context, sub *Submission, outputDir string, frameRate float64, mode Mode) (bool, error) {
	if e.videos == nil {
		return false, fmt.Errorf("%w: no video decoder configured", media.ErrInvalidVideo)
	}
	info, err := e.videos.Probe(ctx, sub.Path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", media.ErrInvalidVideo, err)
	}
	stream, err := e.videos.Open(ctx, sub.Path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", media.ErrInvalidVideo, err)
	}
	defer stream.Close()

	interval := FrameInterval(info.FPS, frameRate)
	log := logger.FromContext(ctx)
	log.WithFields(logger.Fields{
		"fps":      info.FPS,
		"interval": interval,
		"mode":     mode.String(),
	}).Debug("Sampling video frames")

	faceFound := false
	saved := 0
	for decoded := 0; ; decoded++ {
		if err := ctx.Err(); err != nil {
			return faceFound, err
		}
		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.WithField(logger.FieldFrameIndex, decoded).WithError(err).Warn("Stopping video decode")
			break
		}
		if decoded%interval != 0 {
			continue
		}
		dets, ok := e.detect(ctx, sub, decoded, img)
		if !ok {
			continue
		}
		faceFound = true
		e.emit(ctx, sub, img, dets, saved, outputDir, mode)
		saved++
	}

	logger.With(logger.Fields{"mode": mode.String()}).WithCount(saved).Debug(ctx, "Video pass finished")
	return faceFound, nil
}

// detect consults the memo before the face locator.
func (e *FrameExtractor) detect(ctx context.Context, sub *Submission, decodeIndex int, img image.Image) (map[int]domain.Detection, bool) {
	if dets, ok := sub.remembered(decodeIndex); ok {
		return dets, len(dets) > 0
	}
	dets, ok := e.locator.Locate(ctx, img)
	sub.remember(decodeIndex, dets)
	return dets, ok
}

func (e *FrameExtractor) emit(ctx context.Context, sub *Submission, img image.Image, dets map[int]domain.Detection, frame int, outputDir string, mode Mode) {
	if mode == ModeCrops {
		e.crops.Extract(ctx, img, dets, sub.ID, frame, outputDir, e.ext)
		return
	}
	path := filepath.Join(outputDir, FrameName(sub.ID, frame, e.ext))
	created, err := e.writer.SaveImage(path, img)
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldFrameIndex, frame).WithError(err).Warn("Failed to save frame")
		return
	}
	metrics.RecordArtifact("frame", created)
}
