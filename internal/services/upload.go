package services

import (
	"context"

	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/media"
)

// UploadContext carries the result of the request's upload step into a
// service call. Image is nil when the request carried no file.
type UploadContext struct {
	Image *media.Image
}

// MediaDeleter removes uploaded images from the media host.
type MediaDeleter interface {
	Delete(ctx context.Context, mediaID string) error
}

// deleteMedia removes mediaID, logging instead of returning failures.
func deleteMedia(ctx context.Context, m MediaDeleter, mediaID, reason string) {
	if m == nil || mediaID == "" {
		return
	}
	if err := m.Delete(ctx, mediaID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("media_id", mediaID).Str("reason", reason).Msg("failed to delete media")
	}
}

// discard drops the fresh upload of a request that did not persist it.
func (u UploadContext) discard(ctx context.Context, m MediaDeleter, reason string) {
	if u.Image != nil {
		deleteMedia(ctx, m, u.Image.MediaID, reason)
	}
}
