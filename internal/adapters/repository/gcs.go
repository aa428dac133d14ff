package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSBackend stores each template as a JSON object in a bucket. Object
// generations act as versions.
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend wraps an existing client.
func NewGCSBackend(client *storage.Client, bucket, prefix string) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket, prefix: prefix}
}

// OpenGCS creates a storage client using ambient credentials.
func OpenGCS(ctx context.Context, bucket, prefix string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return NewGCSBackend(client, bucket, prefix), nil
}

// Close releases the client.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func (b *GCSBackend) objectName(key string) string {
	return b.prefix + escapeKey(key) + ".json"
}

func (b *GCSBackend) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.objectName(key))
}

// Get implements Backend.
func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	blob, _, found, err := b.GetVersion(ctx, key)
	return blob, found, err
}

// GetVersion implements VersionedBackend.
func (b *GCSBackend) GetVersion(ctx context.Context, key string) ([]byte, int64, bool, error) {
	r, err := b.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, false, err
	}
	return data, r.Attrs.Generation, true, nil
}

// Set implements Backend.
func (b *GCSBackend) Set(ctx context.Context, key string, blob []byte) error {
	return write(ctx, b.object(key), blob)
}

// SetIfVersion implements VersionedBackend.
func (b *GCSBackend) SetIfVersion(ctx context.Context, key string, blob []byte, version int64) error {
	cond := storage.Conditions{GenerationMatch: version}
	if version == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}
	return write(ctx, b.object(key).If(cond), blob)
}

// write uploads blob in one request. The object only changes when Close succeeds.
func write(ctx context.Context, obj *storage.ObjectHandle, blob []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(blob); err != nil {
		cancel()
		_ = w.Close()
		return mapGCSError(err)
	}
	return mapGCSError(w.Close())
}

func mapGCSError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return ErrConflict
	}
	return err
}
