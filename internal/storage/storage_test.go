package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/exambook/apiserver/config"
)

func TestMemoryStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("media")

	if err := s.Put(ctx, "books/a.jpg", bytes.NewReader([]byte("jpeg")), 4, "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}

	body, info, err := s.Get(ctx, "books/a.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "jpeg" || info.ContentType != "image/jpeg" || info.Size != 4 {
		t.Fatalf("unexpected object: %q %+v", data, info)
	}

	if err := s.Delete(ctx, "books/a.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "books/a.jpg"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, _, err := s.Get(ctx, "books/a.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	backend, err := New(context.Background(), config.MediaConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := backend.(*MemoryStorage); !ok {
		t.Fatalf("expected memory backend, got %T", backend)
	}

	if _, err := New(context.Background(), config.MediaConfig{Backend: "ftp"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
	if _, err := New(context.Background(), config.MediaConfig{Backend: "minio"}); err == nil {
		t.Fatalf("expected minio without credentials to fail")
	}
}

func TestNewMinioClientReportsAllMissingSettings(t *testing.T) {
	_, err := NewMinioClient(config.MinioConfig{})
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_BUCKET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestPublicReadPolicy(t *testing.T) {
	raw, err := publicReadPolicy("books")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	var policy bucketPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(policy.Statement) != 1 {
		t.Fatalf("expected one statement, got %d", len(policy.Statement))
	}
	st := policy.Statement[0]
	if st.Effect != "Allow" || st.Principal["AWS"] != "*" {
		t.Fatalf("unexpected grant: %+v", st)
	}
	if len(st.Action) != 1 || st.Action[0] != "s3:GetObject" {
		t.Fatalf("policy must only allow reads: %v", st.Action)
	}
	if len(st.Resource) != 1 || st.Resource[0] != "arn:aws:s3:::books/*" {
		t.Fatalf("unexpected resource: %v", st.Resource)
	}
}
