package metadata

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/domain"
	"github.com/timmy/dmi/internal/media"
)

type stubProber struct {
	info media.FormatInfo
	err  error
}

func (s stubProber) ProbeFormat(context.Context, string) (media.FormatInfo, error) {
	return s.info, s.err
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	path := filepath.Join(t.TempDir(), "sample.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestExtractImage(t *testing.T) {
	path := writePNG(t, 12, 7)

	got := NewExtractor(nil).Extract(context.Background(), path, domain.MediaTypeImage)

	assert.Equal(t, "sample.png", got["File:FileName"])
	assert.Equal(t, "image/png", got["File:MIMEType"])
	assert.Equal(t, "png", got["File:FileTypeExtension"])
	assert.Equal(t, "PNG", got["File:FileType"])
	assert.Equal(t, 12, got["File:ImageWidth"])
	assert.Equal(t, 7, got["File:ImageHeight"])
	assert.Positive(t, got["File:FileSize"])
	for k := range got {
		assert.NotContains(t, k, "EXIF:", "png without EXIF must not yield EXIF keys")
	}
}

func TestExtractMissingFile(t *testing.T) {
	got := NewExtractor(nil).Extract(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"), domain.MediaTypeImage)
	assert.Empty(t, got)
}

func TestExtractVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))

	prober := stubProber{info: media.FormatInfo{
		FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
		Duration:   "4.200000",
		BitRate:    "128000",
		Tags:       map[string]string{"encoder": "Lavf60.3.100", "title": " "},
		Streams: []media.StreamInfo{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 640, Height: 360,
				Tags: map[string]string{"handler_name": "VideoHandler"}},
			{Index: 1, CodecType: "audio", CodecName: "aac"},
		},
	}}

	got := NewExtractor(prober).Extract(context.Background(), path, domain.MediaTypeVideo)

	assert.Equal(t, "clip.mp4", got["File:FileName"])
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", got["Format:FormatName"])
	assert.Equal(t, 4.2, got["Format:Duration"])
	assert.Equal(t, int64(128000), got["Format:BitRate"])
	assert.Equal(t, "Lavf60.3.100", got["Format:encoder"])
	assert.NotContains(t, got, "Format:title")
	assert.Equal(t, "h264", got["Stream0:CodecName"])
	assert.Equal(t, 640, got["Stream0:ImageWidth"])
	assert.Equal(t, "VideoHandler", got["Stream0:handler_name"])
	assert.Equal(t, "audio", got["Stream1:CodecType"])
	assert.NotContains(t, got, "Stream1:ImageWidth")
}

func TestExtractVideoProbeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tests := []struct {
		name   string
		prober FormatProber
	}{
		{"probe error", stubProber{err: errors.New("ffprobe exited 1")}},
		{"no prober", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewExtractor(tt.prober).Extract(context.Background(), path, domain.MediaTypeVideo)
			assert.Equal(t, "clip.mp4", got["File:FileName"])
			for k := range got {
				assert.Regexp(t, `^File:`, k)
			}
		})
	}
}
