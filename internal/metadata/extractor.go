// Package metadata collects descriptive metadata about a submitted file:
// file facts, EXIF tags for images and container/stream tags for videos.
package metadata

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dsoprea/go-exif/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/media"
)

// Key groups, in the spirit of exiftool's -G output.
const (
	groupFile   = "File"
	groupEXIF   = "EXIF"
	groupFormat = "Format"
	groupStream = "Stream"
)

// FormatProber reports container metadata for video files.
type FormatProber interface {
	ProbeFormat(ctx context.Context, path string) (media.FormatInfo, error)
}

// Extractor builds the metadata map attached to a detection record.
type Extractor struct {
	prober FormatProber
}

// NewExtractor creates an Extractor. prober may be nil, in which case
// videos only get file-level facts.
func NewExtractor(prober FormatProber) *Extractor {
	return &Extractor{prober: prober}
}

// Extract never fails: anything that cannot be read is left out, and an
// unreadable file yields an empty map.
func (e *Extractor) Extract(ctx context.Context, path string, mediaType domain.MediaType) domain.JSONMap {
	out := domain.JSONMap{}
	log := logger.FromContext(ctx).WithField(logger.FieldComponent, "metadata")

	info, err := os.Stat(path)
	if err != nil {
		log.WithError(err).Warn("Metadata extraction skipped")
		return out
	}
	out[key(groupFile, "FileName")] = filepath.Base(path)
	out[key(groupFile, "FileSize")] = info.Size()
	out[key(groupFile, "FileModifyDate")] = info.ModTime().UTC().Format("2006:01:02 15:04:05Z")
	if mtype, err := mimetype.DetectFile(path); err == nil {
		out[key(groupFile, "MIMEType")] = mtype.String()
		out[key(groupFile, "FileTypeExtension")] = strings.TrimPrefix(mtype.Extension(), ".")
	}

	switch mediaType {
	case domain.MediaTypeImage:
		e.imageFacts(path, out)
		if err := e.exifTags(path, out); err != nil {
			log.WithError(err).Debug("No EXIF data")
		}
	case domain.MediaTypeVideo:
		if err := e.videoTags(ctx, path, out); err != nil {
			log.WithError(err).Warn("Video metadata probe failed")
		}
	}
	return out
}

func (e *Extractor) imageFacts(path string, out domain.JSONMap) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return
	}
	out[key(groupFile, "ImageWidth")] = cfg.Width
	out[key(groupFile, "ImageHeight")] = cfg.Height
	out[key(groupFile, "FileType")] = strings.ToUpper(format)
}

func (e *Extractor) exifTags(path string, out domain.JSONMap) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := exif.SearchAndExtractExifWithReader(f)
	if err != nil {
		return err
	}
	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return err
	}
	for _, tag := range entries {
		if tag.TagName == "" {
			continue
		}
		value := strings.TrimSpace(strings.ReplaceAll(tag.FormattedFirst, "\x00", ""))
		if value == "" {
			continue
		}
		k := key(groupEXIF, tag.TagName)
		if _, dup := out[k]; dup {
			// IFD1 (thumbnail) repeats IFD0 tags; keep the first.
			continue
		}
		out[k] = value
	}
	return nil
}

func (e *Extractor) videoTags(ctx context.Context, path string, out domain.JSONMap) error {
	if e.prober == nil {
		return errors.New("no format prober configured")
	}
	info, err := e.prober.ProbeFormat(ctx, path)
	if err != nil {
		return err
	}
	setNonEmpty(out, key(groupFormat, "FormatName"), info.FormatName)
	if d, err := strconv.ParseFloat(info.Duration, 64); err == nil {
		out[key(groupFormat, "Duration")] = d
	}
	if b, err := strconv.ParseInt(info.BitRate, 10, 64); err == nil {
		out[key(groupFormat, "BitRate")] = b
	}
	for k, v := range info.Tags {
		setNonEmpty(out, key(groupFormat, k), v)
	}
	for _, st := range info.Streams {
		group := groupStream + strconv.Itoa(st.Index)
		setNonEmpty(out, key(group, "CodecType"), st.CodecType)
		setNonEmpty(out, key(group, "CodecName"), st.CodecName)
		if st.Width > 0 && st.Height > 0 {
			out[key(group, "ImageWidth")] = st.Width
			out[key(group, "ImageHeight")] = st.Height
		}
		for k, v := range st.Tags {
			setNonEmpty(out, key(group, k), v)
		}
	}
	return nil
}

func key(group, name string) string {
	return group + ":" + name
}

func setNonEmpty(m domain.JSONMap, k, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[k] = v
	}
}
