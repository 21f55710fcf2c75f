package storage

import (
	"context"
	"errors"
	"io"
)

// ImageCacheControl is sent with every stored image. Media keys carry a random
// suffix, so an object never changes once written.
const ImageCacheControl = "public, max-age=31536000, immutable"

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStorage defines common object operations across backends.
// Delete of a missing key is not an error.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}
