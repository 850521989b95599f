package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.4, cfg.Pipeline.FaceThreshold)
	assert.Equal(t, 2.0, cfg.Pipeline.FrameRate)
	assert.Equal(t, 256, cfg.Pipeline.CropSize)
	assert.Equal(t, 90, cfg.Pipeline.ELAQuality)
	assert.Equal(t, "jpg", cfg.Media.FileFormat)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Models.Timeout)
	assert.Equal(t, "ai-text-bert", cfg.Models.TextModel)
	assert.Equal(t, 10000, cfg.Pipeline.MemoryCacheSize)
	assert.Equal(t, 100, cfg.Pipeline.TextWindow)
	assert.Equal(t, 50, cfg.Pipeline.TextStride)
	assert.Equal(t, 0.01, cfg.Pipeline.TextHighlightThreshold)
	assert.Equal(t, filepath.Join("./media", "frames"), cfg.Media.FramesPath())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MODEL_SERVER_URL", "http://models:9000")
	t.Setenv("PIPELINE_WORKERS", "4")

	cfg, err := Load(writeConfig(t, "media:\n  root: /srv/media\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://models:9000", cfg.Models.ServerURL)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "/srv/media/crops", cfg.Media.CropsPath())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: "pipeline:\n  frame_rate: 1\n"},
		{name: "threshold out of range", body: "pipeline:\n  face_threshold: 1.5\n", wantErr: true},
		{name: "zero frame rate", body: "pipeline:\n  frame_rate: 0\n", wantErr: true},
		{name: "bad file format", body: "media:\n  file_format: gif\n", wantErr: true},
		{name: "bad ela quality", body: "pipeline:\n  ela_quality: 0\n", wantErr: true},
		{name: "negative cache size", body: "pipeline:\n  memory_cache_size: -1\n", wantErr: true},
		{name: "stride not below window", body: "pipeline:\n  text_window: 40\n  text_stride: 40\n", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "dmi", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dmi sslmode=disable", pg.DSN())

	pg.URL = "postgres://u:p@db/dmi"
	assert.Equal(t, "postgres://u:p@db/dmi", pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Path: "./data/dmi.db"}
	assert.Equal(t, "./data/dmi.db", lite.DSN())
}
