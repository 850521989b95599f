package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/domain"
)

func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := imaging.New(32, 24, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

type stubVideos struct{ err error }

func (s stubVideos) Probe(context.Context, string) (VideoInfo, error) {
	return VideoInfo{FPS: 30, Width: 4, Height: 4}, s.err
}

func (s stubVideos) Open(context.Context, string) (FrameStream, error) {
	return nil, errors.New("not implemented")
}

func TestTypeCheckerCheck(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "face.jpg")
	png := filepath.Join(dir, "face.PNG")
	writeTestImage(t, jpg)
	writeTestImage(t, png)

	broken := filepath.Join(dir, "broken.jpeg")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))
	fakeVideo := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(fakeVideo, []byte("plain text pretending"), 0o644))
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))
	webp := filepath.Join("testdata", "gopher.lossless.webp")
	brokenWebp := filepath.Join(dir, "broken.webp")
	require.NoError(t, os.WriteFile(brokenWebp, []byte("RIFF\x00\x00\x00\x00WEBP"), 0o644))

	checker := NewTypeChecker(stubVideos{})
	ctx := context.Background()

	testCases := []struct {
		name    string
		path    string
		want    domain.MediaType
		wantErr error
		status  string
	}{
		{name: "jpg", path: jpg, want: domain.MediaTypeImage, status: "Image"},
		{name: "upper-case png", path: png, want: domain.MediaTypeImage, status: "Image"},
		{name: "webp", path: webp, want: domain.MediaTypeImage, status: "Image"},
		{name: "broken webp", path: brokenWebp, wantErr: ErrInvalidImage, status: "Invalid image file"},
		{name: "missing", path: filepath.Join(dir, "nope.jpg"), wantErr: ErrFileNotFound, status: "File does not exist"},
		{name: "broken image", path: broken, wantErr: ErrInvalidImage, status: "Invalid image file"},
		{name: "non-video mp4", path: fakeVideo, wantErr: ErrInvalidVideo, status: "Invalid video file"},
		{name: "unsupported", path: text, wantErr: ErrUnsupportedFormat, status: "Not a supported image or video format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := checker.Check(ctx, tc.path)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.True(t, IsInputError(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
			assert.Equal(t, tc.status, StatusMessage(got, err))
		})
	}
}

func TestArtifactWriterWritesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a_0.jpg")
	w := NewArtifactWriter(90)

	created, err := w.SaveImage(path, imaging.New(8, 8, color.White))
	require.NoError(t, err)
	assert.True(t, created)
	before, err := os.Stat(path)
	require.NoError(t, err)

	renders := 0
	created, err = w.Render(path, func() (image.Image, error) {
		renders++
		return imaging.New(16, 16, color.Black), nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 0, renders)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestArtifactWriterConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "same.png")
	w := NewArtifactWriter(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.SaveImage(path, imaging.New(4, 4, color.White))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestArtifactWriterRenderError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.jpg")
	w := NewArtifactWriter(90)
	_, err := w.Render(path, func() (image.Image, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
	assert.False(t, Exists(path))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	writeTestImage(t, src)
	dst := filepath.Join(dir, "out", "dst.jpg")

	w := NewArtifactWriter(90)
	created, err := w.CopyFile(src, dst)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = w.CopyFile(src, dst)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseRate("25"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 0.0, parseRate("abc"))
}

func TestFFmpegSourceDecodesFrames(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not available")
	}
	src, err := NewFFmpegSource("", "")
	if err != nil {
		t.Skip("ffprobe not available")
	}

	path := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command(ffmpeg, "-v", "error", "-f", "lavfi", "-i", "testsrc=size=64x48:rate=10:duration=1",
		"-pix_fmt", "yuv420p", path)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test video: %v %s", err, out)
	}

	ctx := context.Background()
	info, err := src.Probe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
	assert.InDelta(t, 10, info.FPS, 0.01)

	kind, err := NewTypeChecker(src).Check(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaTypeVideo, kind)

	stream, err := src.Open(ctx, path)
	require.NoError(t, err)
	frames := 0
	for {
		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
		frames++
	}
	require.NoError(t, stream.Close())
	assert.Equal(t, 10, frames)
}
