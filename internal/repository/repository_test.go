package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dmi/internal/config"
	"github.com/timmy/dmi/internal/domain"
)

func newTestRepo(t *testing.T) *DetectionRepository {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "db", "dmi.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewDetectionRepository(db)
}

func TestDetectionRepositoryLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := &domain.DetectionRecord{OriginalFilename: "clip.mp4", MediaPath: "/media/submissions/x/clip.mp4"}
	result := &domain.MediaAnalysisResult{
		Status:     domain.AnalysisStatusCompleted,
		MediaType:  domain.MediaTypeVideo,
		Identifier: domain.MediaIdentifier{ContentHash: "123456", NameHash: "654321"},
		FileID:     "123456_654321",
		Statistics: domain.Statistics{IsDeepfake: true, Confidence: 0.8, TotalFrames: 3, FakeFrames: 2},
	}
	require.NoError(t, rec.ApplyDeepfakeResult(result))
	require.NoError(t, repo.Create(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456_654321", got.Identifier)
	assert.Equal(t, domain.PurposeDeepfake, got.Purpose)
	assert.True(t, got.IsDeepfake)
	assert.Equal(t, 3, got.FramesAnalyzed)
	assert.Equal(t, "123456_654321", got.AnalysisReport["file_identifier"])

	got.Metadata = domain.JSONMap{"width": float64(640)}
	require.NoError(t, repo.Update(ctx, got))
	again, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(640), again.Metadata["width"])

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetectionRepositoryNoFacesRecord(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := &domain.DetectionRecord{}
	require.NoError(t, rec.ApplyDeepfakeResult(&domain.MediaAnalysisResult{
		Status:     domain.AnalysisStatusNoFaces,
		MediaType:  domain.MediaTypeImage,
		Identifier: domain.MediaIdentifier{ContentHash: "000001", NameHash: "000002"},
	}))
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetLatestByIdentifier(ctx, "000001_000002", domain.PurposeDeepfake)
	require.NoError(t, err)
	assert.False(t, got.IsDeepfake)
	assert.Zero(t, got.ConfidenceScore)
	assert.Equal(t, domain.NoFacesVerdict, got.AnalysisReport["final_verdict"])

	_, err = repo.GetLatestByIdentifier(ctx, "000001_000002", domain.PurposeAIImage)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetectionRepositoryListAndGetByIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i, purpose := range []string{domain.PurposeDeepfake, domain.PurposeAIImage, domain.PurposeDeepfake} {
		rec := &domain.DetectionRecord{Purpose: purpose, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, repo.Create(ctx, rec))
		ids = append(ids, rec.ID)
	}

	deepfakes, err := repo.List(ctx, domain.PurposeDeepfake, 10, 0)
	require.NoError(t, err)
	require.Len(t, deepfakes, 2)
	assert.Equal(t, ids[2], deepfakes[0].ID)

	recs, err := repo.GetByIDs(ctx, ids[:2])
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	none, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID("123_456", domain.PurposeDeepfake)
	assert.Equal(t, a, PointID("123_456", domain.PurposeDeepfake))
	assert.NotEqual(t, a, PointID("123_456", domain.PurposeAIImage))
	assert.Len(t, a, 36)
}

func TestArchivePayload(t *testing.T) {
	entry := ArchiveEntry{RecordID: "r1", Identifier: "1_2", Purpose: domain.PurposeDeepfake, MediaType: "Video", IsDeepfake: true}
	assert.Equal(t, entry, parseEntry(entryPayload(entry)))
	assert.Equal(t, ArchiveEntry{}, parseEntry(nil))
}
