package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"scribe.evalgo.org/common"
)

// ErrObjectNotFound is returned when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Config carries the object-store connection settings.
type Config struct {
	// Endpoint is an S3-compatible endpoint URL; empty means AWS.
	Endpoint string
	Region   string

	AccessKey string
	SecretKey string

	Bucket string

	// UsePathStyle is required for MinIO.
	UsePathStyle bool
}

// NewS3Client builds the SDK client for AWS, MinIO or any compatible
// endpoint.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true, // important for MinIO
				}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.HTTPClient = &http.Client{}
	}), nil
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// BlobStore reads and writes snapshot blobs in one bucket. presigner
// may be nil when no read API needs signed URLs.
type BlobStore struct {
	client    S3Client
	presigner Presigner
	bucket    string
}

// NewBlobStore wraps a client; presigner is optional.
func NewBlobStore(client S3Client, presigner Presigner, bucket string) *BlobStore {
	return &BlobStore{client: client, presigner: presigner, bucket: bucket}
}

// EnsureBucket creates the bucket when the head check fails. MinIO
// setups start empty; AWS buckets normally pre-exist.
func (b *BlobStore) EnsureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}

	common.Logger.WithField("bucket", b.bucket).Info("bucket missing, creating")
	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return common.NewPersistenceError(fmt.Sprintf("create bucket %s", b.bucket), err)
	}
	return nil
}

// PutJSON writes one JSON blob.
func (b *BlobStore) PutJSON(ctx context.Context, key string, body []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return common.NewPersistenceError(fmt.Sprintf("put object %s", key), err)
	}
	return nil
}

// Get reads one blob.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, common.NewPersistenceError(fmt.Sprintf("get object %s", key), err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, common.NewPersistenceError(fmt.Sprintf("read object %s", key), err)
	}
	return body, nil
}

// List enumerates blobs under a prefix, following pagination.
func (b *BlobStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	var token *string
	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, common.NewPersistenceError(fmt.Sprintf("list objects under %s", prefix), err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
		if page.NextContinuationToken == nil {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

// PresignGet signs a time-limited download URL for one blob.
func (b *BlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if b.presigner == nil {
		return "", fmt.Errorf("presigning is not configured")
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", common.NewPersistenceError(fmt.Sprintf("presign object %s", key), err)
	}
	return req.URL, nil
}
