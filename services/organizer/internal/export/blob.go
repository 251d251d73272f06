package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader copies a local artifact to object storage under key.
type Uploader interface {
	Upload(ctx context.Context, key, path string) error
}

// BlobStore uploads artifacts to an S3-compatible bucket.
type BlobStore struct {
	Endpoint string
	Bucket   string
	Prefix   string
	Client   *minio.Client
}

// NewBlobStore connects to endpoint and makes sure bucket exists.
func NewBlobStore(ctx context.Context, endpoint, accessKey, secretKey, bucket, prefix string, secure bool) (*BlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("s3 make bucket: %w", err)
		}
	}

	return &BlobStore{
		Endpoint: endpoint,
		Bucket:   bucket,
		Prefix:   strings.Trim(prefix, "/"),
		Client:   client,
	}, nil
}

// Upload puts the file at path under Prefix/key.
func (b *BlobStore) Upload(ctx context.Context, key, path string) error {
	if b == nil || b.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}
	_, err := b.Client.FPutObject(ctx, b.Bucket, b.objectKey(key), path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (b *BlobStore) objectKey(key string) string {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if b.Prefix == "" {
		return key
	}
	return b.Prefix + "/" + key
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// UploadTree uploads every path relative to root. It stops at the first
// failure.
func UploadTree(ctx context.Context, u Uploader, root string, paths []string) error {
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("artifact %s outside %s: %w", p, root, err)
		}
		if err := u.Upload(ctx, rel, p); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
	}
	return nil
}
