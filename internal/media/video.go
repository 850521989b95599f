package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo is what the pipeline needs to know about a video stream.
type VideoInfo struct {
	FPS    float64
	Width  int
	Height int
}

// FrameStream yields decoded frames in order. Next returns io.EOF after the
// last frame.
type FrameStream interface {
	Next() (image.Image, error)
	Close() error
}

// VideoSource opens videos for sequential decoding.
type VideoSource interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	Open(ctx context.Context, path string) (FrameStream, error)
}

// FFmpegSource decodes videos by piping raw RGB frames out of ffmpeg.
type FFmpegSource struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegSource resolves the ffmpeg and ffprobe binaries.
func NewFFmpegSource(ffmpegPath, ffprobePath string) (*FFmpegSource, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	ff, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	fp, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	return &FFmpegSource{ffmpegPath: ff, ffprobePath: fp}, nil
}

type probeOutput struct {
	Streams []struct {
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		RFrameRate   string            `json:"r_frame_rate"`
		AvgFrameRate string            `json:"avg_frame_rate"`
		Tags         map[string]string `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry and frame rate.
func (s *FFmpegSource) Probe(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-of", "json",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, errors.New("no video stream")
	}
	st := out.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video geometry %dx%d", st.Width, st.Height)
	}

	fps := parseRate(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(st.RFrameRate)
	}
	info := VideoInfo{FPS: fps, Width: st.Width, Height: st.Height}

	// ffmpeg applies display rotation while decoding, so report the rotated size.
	rotation := 0.0
	if r, ok := st.Tags["rotate"]; ok {
		rotation, _ = strconv.ParseFloat(r, 64)
	}
	for _, sd := range st.SideDataList {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	if int(rotation)%180 != 0 {
		info.Width, info.Height = info.Height, info.Width
	}
	return info, nil
}

// StreamInfo describes one stream of a media container.
type StreamInfo struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// FormatInfo is the container-level description reported by ffprobe.
type FormatInfo struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
	Streams    []StreamInfo      `json:"streams"`
}

// ProbeFormat reads the container format, its tags and every stream.
func (s *FFmpegSource) ProbeFormat(ctx context.Context, path string) (FormatInfo, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return FormatInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	var out struct {
		Format  FormatInfo   `json:"format"`
		Streams []StreamInfo `json:"streams"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return FormatInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	info := out.Format
	info.Streams = out.Streams
	return info, nil
}

// parseRate parses ffprobe rates such as "30000/1001".
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Open starts ffmpeg and returns a stream of every decoded frame.
func (s *FFmpegSource) Open(ctx context.Context, path string) (FrameStream, error) {
	info, err := s.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-vsync", "0",
		"pipe:1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &rawFrameStream{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, 1<<20),
		stderr: &stderr,
		width:  info.Width,
		height: info.Height,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

type rawFrameStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr *bytes.Buffer
	width  int
	height int
	buf    []byte
	eof    bool
	closed bool
}

func (r *rawFrameStream) Next() (image.Image, error) {
	if _, err := io.ReadFull(r.reader, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	for i, j := 0, 0; i < len(r.buf); i, j = i+3, j+4 {
		img.Pix[j] = r.buf[i]
		img.Pix[j+1] = r.buf[i+1]
		img.Pix[j+2] = r.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func (r *rawFrameStream) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.eof {
		// stopped early: the rest of the stream is not needed
		_ = r.cmd.Process.Kill()
		_ = r.cmd.Wait()
		return nil
	}
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(r.stderr.String()))
	}
	return nil
}
