package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	body, _ := io.ReadAll(reader)
	args := m.Called(key, string(body), size, contentType)
	return args.Error(0)
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	return m.Called(key).Error(0)
}

func (m *mockStore) GetURL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestLocalURLResolver(t *testing.T) {
	r := NewLocalURLResolver("/srv/media", "http://localhost:8080", "/media/")
	ctx := context.Background()

	url, err := r.URL(ctx, "/srv/media/frames/123_456_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/frames/123_456_0.jpg", url)

	_, err = r.URL(ctx, "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideMediaRoot)
}

func TestPublishingResolverUploadsOnce(t *testing.T) {
	root := t.TempDir()
	local := filepath.Join(root, "crops", "a_0_0.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0o644))

	store := &mockStore{}
	store.On("Exists", "dmi/crops/a_0_0.txt").Return(false, nil).Once()
	store.On("Upload", "dmi/crops/a_0_0.txt", "hello", int64(5), "text/plain; charset=utf-8").Return(nil).Once()
	store.On("Exists", "dmi/crops/a_0_0.txt").Return(true, nil).Once()

	r := NewPublishingResolver(store, root, "/dmi/")
	ctx := context.Background()

	url, err := r.URL(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/dmi/crops/a_0_0.txt", url)

	url, err = r.URL(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/dmi/crops/a_0_0.txt", url)

	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Upload", 1)
}

func TestPublishingResolverMissingFile(t *testing.T) {
	root := t.TempDir()
	store := &mockStore{}
	store.On("Exists", "gone.jpg").Return(false, nil)

	_, err := NewPublishingResolver(store, root, "").URL(context.Background(), filepath.Join(root, "gone.jpg"))
	assert.Error(t, err)
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://abc.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.eu-west-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/"))
	assert.Equal(t, "abc.r2.cloudflarestorage.com", normalizeEndpoint("https://abc.r2.cloudflarestorage.com/bucket"))
}
