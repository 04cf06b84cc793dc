// Package archive keeps raw snapshots of scraped items in S3-compatible
// object storage so parsers can be re-run against what was actually fetched.
package archive

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"shortsgen/candidate"
	"shortsgen/errors"
)

// Archiver stores raw snapshots. Implementations must be safe for
// concurrent use.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Key returns the object key of a draft's raw snapshot:
// raw/<kind>/<source>/<sha1(dedupKey)>.<ext>.
func Key(kind candidate.Kind, source, dedupKey, ext string) string {
	sum := sha1.Sum([]byte(dedupKey))
	return "raw/" + string(kind) + "/" + url.PathEscape(source) + "/" + hex.EncodeToString(sum[:]) + "." + ext
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the endpoint and creates the bucket if it does not
// exist yet.
func NewMinio(ctx context.Context, cfg Config) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to minio")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.StoreError(err, "check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.StoreError(err, "create bucket")
		}
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioArchiver) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.StoreError(err, "archive "+key)
	}
	return nil
}

// Exists reports whether key is already stored.
func (m *MinioArchiver) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, errors.StoreError(err, "stat "+key)
}

// URL returns a presigned GET URL for key.
func (m *MinioArchiver) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", errors.StoreError(err, "presign "+key)
	}
	return u.String(), nil
}
