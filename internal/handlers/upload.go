package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/exambook/apiserver/internal/media"
	"github.com/exambook/apiserver/internal/services"
)

// Uploader stores request images on the media host.
type Uploader interface {
	Upload(ctx context.Context, folder, filename string, data []byte) (media.Image, error)
}

// uploadImage pushes the request's file, if any, and returns the upload
// context for the service call. It writes the error reply itself and
// reports false when the request must stop.
func uploadImage(w http.ResponseWriter, r *http.Request, up Uploader, folder, field string, file *formFile) (services.UploadContext, bool) {
	if file == nil {
		return services.UploadContext{}, true
	}

	img, err := up.Upload(r.Context(), folder, file.Filename, file.Data)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedImage) {
			writeValidationError(w, map[string][]string{field: {"Unsupported image format"}})
			return services.UploadContext{}, false
		}
		writeServerError(w, r, err, "Image upload failed")
		return services.UploadContext{}, false
	}
	return services.UploadContext{Image: &img}, true
}
