// Package minio stores artifacts in a MinIO (or other S3-compatible) bucket
// through minio-go.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Config contains the information required to talk to the object store.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	CreateBucketIfNotExist bool
}

// Backend implements derivative.BlobStore on a minio client.
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a MinIO backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("endpoint and bucket are required")
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	b := &Backend{client: cl, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
	if cfg.CreateBucketIfNotExist {
		ctx := context.Background()
		exists, err := cl.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket: %w", err)
		}
		if !exists {
			if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("create bucket: %w", err)
			}
		}
	}
	return b, nil
}

// PrepareDirectory is a no-op: object stores have no directories.
func (b *Backend) PrepareDirectory(ctx context.Context, dir string) error {
	return nil
}

// Upload streams reader into the bucket, replacing any existing object.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.objectKey(key), reader, -1, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Download opens the object at key.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, derivative.ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

// Delete removes the object at key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, b.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (b *Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

var _ derivative.BlobStore = (*Backend)(nil)
