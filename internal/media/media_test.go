package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/exambook/apiserver/internal/storage"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestUploadResizesAndStores(t *testing.T) {
	store := storage.NewMemoryStorage("media")
	client := NewClient(store, "https://cdn.example/media/")

	img, err := client.Upload(context.Background(), FolderBooks, "My Algebra Book.jpeg", encodeJPEG(t, 2400, 1200))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if !strings.HasPrefix(img.MediaID, "books/my-algebra-book-") || !strings.HasSuffix(img.MediaID, ".jpg") {
		t.Fatalf("unexpected media id: %q", img.MediaID)
	}
	if img.URL != "https://cdn.example/media/"+img.MediaID {
		t.Fatalf("unexpected url: %q", img.URL)
	}

	body, info, err := store.Get(context.Background(), img.MediaID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if format != "jpeg" || info.ContentType != "image/jpeg" {
		t.Fatalf("unexpected stored format %q / %q", format, info.ContentType)
	}
	if cfg.Width != 1000 || cfg.Height != 500 {
		t.Fatalf("expected 1000x500, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestUploadKeepsSmallPNG(t *testing.T) {
	store := storage.NewMemoryStorage("media")
	client := NewClient(store, "/media")

	img, err := client.Upload(context.Background(), FolderUsers, "avatar.png", encodePNG(t, 40, 80))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(img.MediaID, "users/avatar-") || !strings.HasSuffix(img.MediaID, ".png") {
		t.Fatalf("unexpected media id: %q", img.MediaID)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	client := NewClient(storage.NewMemoryStorage("media"), "/media")

	_, err := client.Upload(context.Background(), FolderBooks, "notes.txt", []byte("plain text"))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStorage("media")
	client := NewClient(store, "/media")

	img, err := client.Upload(context.Background(), FolderBooks, "a.png", encodePNG(t, 10, 10))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := client.Delete(context.Background(), img.MediaID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Has(img.MediaID) {
		t.Fatalf("expected object to be removed")
	}
	if err := client.Delete(context.Background(), img.MediaID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := client.Delete(context.Background(), ""); err != nil {
		t.Fatalf("empty id: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"My Book":  "my-book",
		"___":      "image",
		"résumé":   "r-sum",
		"ok_name1": "ok_name1",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
