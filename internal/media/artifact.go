package media

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"
)

// ArtifactWriter creates derived files at most once. A path that already
// exists is never rewritten, concurrent writers of the same path share one
// write, and files appear atomically via rename.
type ArtifactWriter struct {
	group       singleflight.Group
	jpegQuality int
}

// NewArtifactWriter creates a writer that encodes JPEGs at jpegQuality.
func NewArtifactWriter(jpegQuality int) *ArtifactWriter {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &ArtifactWriter{jpegQuality: jpegQuality}
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveImage writes img to path unless path exists. created reports whether
// this call produced the file.
func (w *ArtifactWriter) SaveImage(path string, img image.Image) (bool, error) {
	return w.Render(path, func() (image.Image, error) { return img, nil })
}

// Render calls render and writes its result only if path is absent, so
// expensive images are not recomputed for existing artifacts.
func (w *ArtifactWriter) Render(path string, render func() (image.Image, error)) (bool, error) {
	return w.once(path, func(tmp *os.File) error {
		img, err := render()
		if err != nil {
			return err
		}
		format, err := imaging.FormatFromFilename(path)
		if err != nil {
			return err
		}
		return imaging.Encode(tmp, img, format, imaging.JPEGQuality(w.jpegQuality))
	})
}

// CopyFile copies src to dst unless dst exists.
func (w *ArtifactWriter) CopyFile(src, dst string) (bool, error) {
	return w.once(dst, func(tmp *os.File) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tmp, in)
		return err
	})
}

func (w *ArtifactWriter) once(path string, write func(tmp *os.File) error) (bool, error) {
	if Exists(path) {
		return false, nil
	}
	v, err, _ := w.group.Do(path, func() (interface{}, error) {
		if Exists(path) {
			return false, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, err
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
		if err != nil {
			return false, err
		}
		tmpName := tmp.Name()
		if err := write(tmp); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return false, err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return false, err
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return v.(bool), nil
}

// LoadImage decodes an image file, applying EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}
