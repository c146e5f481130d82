package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// GCSLoader reads objects referenced as gs://bucket/object. Only text-like
// objects are supported; PDF objects should be staged through the upload
// path instead.
type GCSLoader struct {
	client *storage.Client
}

func NewGCSLoader(ctx context.Context) (*GCSLoader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: gcs client: %w", err)
	}
	return &GCSLoader{client: client}, nil
}

func (l *GCSLoader) Load(ctx context.Context, ref string) (Content, error) {
	bucket, object, err := parseGCSRef(ref)
	if err != nil {
		return Content{}, err
	}
	reader, err := l.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return Content{}, tagGCSError(ref, err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, types.Transient("gcs read "+ref, err)
	}
	return Content{
		Text:  string(raw),
		Title: object,
		Size:  reader.Attrs.Size,
	}, nil
}

func (l *GCSLoader) Close() error { return l.client.Close() }

func parseGCSRef(ref string) (bucket, object string, err error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("loader: invalid gcs ref %q: %w", ref, types.ErrSourceNotFound)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if object == "" {
		return "", "", fmt.Errorf("loader: gcs ref %q missing object: %w", ref, types.ErrSourceNotFound)
	}
	return u.Host, object, nil
}

func tagGCSError(ref string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("loader: %q: %w", ref, types.ErrSourceNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 403 || apiErr.Code == 401) {
		return fmt.Errorf("loader: %q: %w", ref, types.ErrSourceAccessDenied)
	}
	return types.Transient("gcs "+ref, err)
}

// S3Loader is a placeholder: s3 refs are accepted at the type level, but
// loading needs credentials and an SDK this deployment does not carry.
type S3Loader struct{}

func (S3Loader) Load(ctx context.Context, ref string) (Content, error) {
	return Content{}, fmt.Errorf("loader: s3 source %q: no s3 credentials configured", ref)
}
