package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/exambook/apiserver/config"
)

// MinioClient stores media in a MinIO (or any S3-compatible) bucket.
type MinioClient struct {
	client     *minio.Client
	bucket     string
	publicRead bool
}

// NewMinioClient constructs a MinIO client from config. It reports every
// missing setting at once.
func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	var missing []error
	if strings.TrimSpace(cfg.Endpoint) == "" {
		missing = append(missing, errors.New("MINIO_ENDPOINT is required"))
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		missing = append(missing, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required"))
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		missing = append(missing, errors.New("MINIO_BUCKET is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &MinioClient{
		client:     client,
		bucket:     cfg.Bucket,
		publicRead: cfg.PublicRead,
	}, nil
}

// EnsureBucket creates the bucket if needed. With public reads enabled it
// also grants anonymous GetObject so image URLs resolve without signing.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	if !m.publicRead {
		return nil
	}

	policy, err := publicReadPolicy(m.bucket)
	if err != nil {
		return err
	}
	return m.client.SetBucketPolicy(ctx, m.bucket, policy)
}

func (m *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: ImageCacheControl,
	})
	return err
}

func (m *MinioClient) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectInfo{}, mapMinioError(err)
	}
	return obj, ObjectInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (m *MinioClient) Delete(ctx context.Context, key string) error {
	err := mapMinioError(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

func (m *MinioClient) Bucket() string {
	return m.bucket
}

func mapMinioError(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return err
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// publicReadPolicy allows anonymous GetObject on every key in bucket.
func publicReadPolicy(bucket string) (string, error) {
	data, err := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"AWS": "*"},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
