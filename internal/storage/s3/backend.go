// Package s3 provides an S3-compatible storage backend. It doubles as the
// fetch source for s3:// library locators and as a publish target.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/pkg/models"
)

// BackendConfig holds S3 connection settings. Endpoint is only needed for
// S3-compatible services such as MinIO. Static credentials are used when
// AccessKey is set, the default AWS chain otherwise.
type BackendConfig struct {
	Endpoint     string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// S3Backend implements storage.Backend using S3/MinIO.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func newClient(ctx context.Context, cfg BackendConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func (b *S3Backend) objectKey(key string) string {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

// EnsureBucket creates the bucket when it does not exist yet.
func (b *S3Backend) EnsureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(b.bucket),
		})
		if createErr != nil {
			metrics.RecordS3Operation("create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
		}
		metrics.RecordS3Operation("create_bucket", time.Since(start), true)
		logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	}
	return nil
}

// GetObject retrieves an object from S3 with range support.
func (b *S3Backend) GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	return b.getObject(ctx, b.bucket, b.objectKey(key), offset, length)
}

func (b *S3Backend) getObject(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, int64, error) {
	start := time.Now()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	if offset > 0 || length > 0 {
		var rangeStr string
		if length > 0 {
			rangeStr = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		} else {
			rangeStr = fmt.Sprintf("bytes=%d-", offset)
		}
		input.Range = aws.String(rangeStr)
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		metrics.RecordS3Operation("get_object", time.Since(start), false)
		return nil, 0, fmt.Errorf("get object %s/%s: %w", bucket, key, mapNotFound(bucket, key, err))
	}

	metrics.RecordS3Operation("get_object", time.Since(start), true)

	totalSize := int64(0)
	if result.ContentLength != nil {
		totalSize = *result.ContentLength
	}

	return result.Body, totalSize, nil
}

// Fetch reads a whole object addressed as s3://bucket/key. The bucket comes
// from the locator, so one backend serves every bucket its credentials reach.
func (b *S3Backend) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", locator, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("not an s3 locator: %s", locator)
	}
	key := strings.TrimPrefix(path.Clean("/"+u.Path), "/")

	body, _, err := b.getObject(ctx, u.Host, key, 0, 0)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", locator, err)
	}
	return data, nil
}

// PutObject uploads content to S3.
func (b *S3Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	objectKey := b.objectKey(key)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(objectKey),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		metrics.RecordS3Operation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}

	metrics.RecordS3Operation("put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", objectKey), zap.Int64("size", size))
	return nil
}

// DeleteObject removes an object from S3.
func (b *S3Backend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	objectKey := b.objectKey(key)

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		metrics.RecordS3Operation("delete_object", time.Since(start), false)
		return err
	}

	metrics.RecordS3Operation("delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", objectKey))
	return nil
}

// StatObject returns the size of an object in S3.
func (b *S3Backend) StatObject(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	objectKey := b.objectKey(key)

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		metrics.RecordS3Operation("head_object", time.Since(start), false)
		return 0, mapNotFound(b.bucket, objectKey, err)
	}

	metrics.RecordS3Operation("head_object", time.Since(start), true)
	return aws.ToInt64(out.ContentLength), nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }

// mapNotFound converts the S3 "no such key" errors into models.NotFoundError.
func mapNotFound(bucket, key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return &models.NotFoundError{Locator: "s3://" + bucket + "/" + key, Err: err}
	}
	return err
}
