package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/exambook/apiserver/internal/storage"
)

// MediaHandler serves stored images when no CDN fronts the bucket.
type MediaHandler struct {
	store storage.ObjectStorage
}

func NewMediaHandler(store storage.ObjectStorage) *MediaHandler {
	return &MediaHandler{store: store}
}

func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusNotFound, "Media not found")
		return
	}

	body, info, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "Media not found")
			return
		}
		writeServerError(w, r, err, "Failed to load media")
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", storage.ImageCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
