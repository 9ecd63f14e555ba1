package audio

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config addresses an S3-compatible bucket used for hosted playback clips.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
	URLExpiry time.Duration
}

// S3Publisher uploads clips and hands out presigned GET URLs.
type S3Publisher struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration
}

func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "turns"
	}
	return &S3Publisher{client: client, bucket: cfg.Bucket, prefix: prefix, expiry: expiry}, nil
}

func (p *S3Publisher) Publish(ctx context.Context, clip Clip) (string, error) {
	if clip.Len() == 0 {
		return "", fmt.Errorf("empty clip")
	}
	key := p.prefix + "/" + time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + clip.Extension()
	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(clip.Data), int64(clip.Len()), minio.PutObjectOptions{
		ContentType: clip.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload clip: %w", err)
	}
	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign clip: %w", err)
	}
	return u.String(), nil
}
