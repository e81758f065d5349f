// Package storage provides artifact storage for invoice documents.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	financeapp "github.com/erp/fiscal/internal/application/finance"
	infraconfig "github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ensure S3ArtifactStore implements ArtifactStore
var _ financeapp.ArtifactStore = (*S3ArtifactStore)(nil)

// S3ArtifactStore stores invoice artifacts in any S3-compatible backend
// (AWS S3, MinIO, RustFS).
type S3ArtifactStore struct {
	client        *s3.Client
	defaultBucket string
	logger        *zap.Logger
}

// S3ArtifactStoreOption is a functional option for configuring S3ArtifactStore
type S3ArtifactStoreOption func(*S3ArtifactStore)

// WithLogger sets a custom logger for S3ArtifactStore
func WithLogger(logger *zap.Logger) S3ArtifactStoreOption {
	return func(s *S3ArtifactStore) {
		s.logger = logger
	}
}

// NewS3ArtifactStore creates a new S3ArtifactStore from configuration
func NewS3ArtifactStore(cfg *infraconfig.StorageConfig, opts ...S3ArtifactStoreOption) (*S3ArtifactStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	endpoint := cfg.Endpoint
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// S3-compatible servers do not all accept the default CRC trailers
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	store := &S3ArtifactStore{
		client:        client,
		defaultBucket: cfg.Bucket,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// EnsureBucket creates the default bucket if it doesn't exist.
// Call this during application startup.
func (s *S3ArtifactStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.defaultBucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.defaultBucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.defaultBucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload writes data under a new ObjectKey and returns that key.
func (s *S3ArtifactStore) Upload(ctx context.Context, bucket, scopeID, filename string, data []byte, contentType string) (string, error) {
	key, err := ObjectKey(scopeID, filename)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketOrDefault(bucket)),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	s.logger.Debug("Artifact uploaded",
		zap.String("bucket", s.bucketOrDefault(bucket)),
		zap.String("path", key),
		zap.Int("size", len(data)),
	)
	return key, nil
}

// Delete removes an object. Deleting a missing key succeeds.
func (s *S3ArtifactStore) Delete(ctx context.Context, bucket, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketOrDefault(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// GetBucket returns the default bucket name
func (s *S3ArtifactStore) GetBucket() string {
	return s.defaultBucket
}

func (s *S3ArtifactStore) bucketOrDefault(bucket string) string {
	if bucket == "" {
		return s.defaultBucket
	}
	return bucket
}

// ObjectKey builds a fresh storage key for an artifact:
// scope/<uuidv7>/<basename>. Every upload gets its own key, so a second
// upload of the same file never replaces an object another invoice points at.
func ObjectKey(scopeID, filename string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return objectKey(scopeID, id.String(), filename)
}

func objectKey(scopeID, uploadID, filename string) (string, error) {
	scope := strings.Trim(strings.TrimSpace(scopeID), "/")
	if scope == "" || strings.Contains(scope, "..") {
		return "", errors.New("storage scope is required")
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", errors.New("storage filename is required")
	}
	return scope + "/" + uploadID + "/" + name, nil
}
