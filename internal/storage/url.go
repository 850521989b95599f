package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"
)

// ErrOutsideMediaRoot is returned for files that are not under the media root.
var ErrOutsideMediaRoot = errors.New("path is outside the media root")

// URLResolver turns a local artifact path into a URL clients can fetch.
type URLResolver interface {
	URL(ctx context.Context, localPath string) (string, error)
}

// relativeKey returns localPath relative to root with forward slashes.
func relativeKey(root, localPath string) (string, error) {
	rel, err := filepath.Rel(root, localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideMediaRoot, localPath)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideMediaRoot, localPath)
	}
	return rel, nil
}

// LocalURLResolver serves artifacts from the media root as
// host_url + media_url + relative path.
type LocalURLResolver struct {
	root     string
	hostURL  string
	mediaURL string
}

// NewLocalURLResolver creates a resolver for files under root.
func NewLocalURLResolver(root, hostURL, mediaURL string) *LocalURLResolver {
	return &LocalURLResolver{root: root, hostURL: hostURL, mediaURL: mediaURL}
}

// URL implements URLResolver.
func (r *LocalURLResolver) URL(_ context.Context, localPath string) (string, error) {
	rel, err := relativeKey(r.root, localPath)
	if err != nil {
		return "", err
	}
	return r.hostURL + r.mediaURL + rel, nil
}

// PublishingResolver uploads artifacts to object storage on first use and
// returns their public URL.
type PublishingResolver struct {
	store  ObjectStorage
	root   string
	prefix string
	group  singleflight.Group
}

// NewPublishingResolver creates a resolver that mirrors files under root
// into store below prefix.
func NewPublishingResolver(store ObjectStorage, root, prefix string) *PublishingResolver {
	return &PublishingResolver{store: store, root: root, prefix: strings.Trim(prefix, "/")}
}

// URL implements URLResolver.
func (r *PublishingResolver) URL(ctx context.Context, localPath string) (string, error) {
	rel, err := relativeKey(r.root, localPath)
	if err != nil {
		return "", err
	}
	key := path.Join(r.prefix, rel)

	_, err, _ = r.group.Do(key, func() (interface{}, error) {
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
		return nil, r.upload(ctx, key, localPath)
	})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	return r.store.GetURL(key), nil
}

func (r *PublishingResolver) upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return r.store.Upload(ctx, key, f, info.Size(), mtype.String())
}
