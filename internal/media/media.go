// Package media uploads listing and profile photos to object storage and
// deletes them again when they are replaced.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exambook/apiserver/internal/metrics"
	"github.com/exambook/apiserver/internal/storage"
)

const (
	FolderBooks = "books"
	FolderUsers = "users"

	defaultUploadTimeout = 2 * time.Minute
)

// ErrUnsupportedImage is returned when the upload cannot be decoded as an image.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Image is the result of a successful upload.
type Image struct {
	URL     string `json:"url"`
	MediaID string `json:"mediaId"`
}

// Client stores transformed images in an ObjectStorage backend and
// addresses them under a public base URL.
type Client struct {
	store         storage.ObjectStorage
	publicBaseURL string
	uploadTimeout time.Duration
}

// NewClient constructs a media client. publicBaseURL is prefixed to object
// keys to build the image URL.
func NewClient(store storage.ObjectStorage, publicBaseURL string) *Client {
	return &Client{
		store:         store,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		uploadTimeout: defaultUploadTimeout,
	}
}

// Upload resizes data, stores it under folder and returns its URL and media ID.
func (c *Client) Upload(ctx context.Context, folder, filename string, data []byte) (Image, error) {
	encoded, ext, contentType, err := transform(data)
	if err != nil {
		return Image{}, err
	}

	key := objectKey(folder, filename, ext)

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	err = c.store.Put(ctx, key, bytes.NewReader(encoded), int64(len(encoded)), contentType)
	metrics.RecordMediaOperation("upload", err)
	if err != nil {
		return Image{}, fmt.Errorf("upload %s: %w", key, err)
	}

	return Image{URL: c.URL(key), MediaID: key}, nil
}

// Delete removes a previously uploaded image. Missing objects and empty IDs
// are not errors.
func (c *Client) Delete(ctx context.Context, mediaID string) error {
	if strings.TrimSpace(mediaID) == "" {
		return nil
	}
	err := c.store.Delete(ctx, mediaID)
	metrics.RecordMediaOperation("delete", err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", mediaID, err)
	}
	return nil
}

// URL returns the public URL for a media ID.
func (c *Client) URL(mediaID string) string {
	return c.publicBaseURL + "/" + mediaID
}

func objectKey(folder, filename, ext string) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(filename, "\\", "/")), path.Ext(filename))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%s-%s.%s", folder, sanitize(base), suffix, ext)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
		if b.Len() >= 64 {
			break
		}
	}
	out := strings.Trim(b.String(), "-_")
	if out == "" {
		return "image"
	}
	return out
}
