package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"token-ledger/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ExportStore uploads rendered ledger exports to a bucket.
type ExportStore struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewExportStore builds an S3 client from cfg. A non-empty endpoint targets
// MinIO or localstack with path-style addressing.
func NewExportStore(cfg config.ExportConfig) (*ExportStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Support MinIO for local development
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		if strings.HasPrefix(cfg.Endpoint, "http://") {
			awsConfig.DisableSSL = aws.Bool(true)
		}
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	return NewExportStoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

// NewExportStoreWithClient wraps an existing client.
func NewExportStoreWithClient(client s3iface.S3API, bucket, prefix string) *ExportStore {
	return &ExportStore{client: client, bucket: bucket, prefix: prefix}
}

// Put stores body under prefix+key and returns its s3:// location.
func (s *ExportStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := s.prefix + key

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectKey, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Ping checks that the bucket is reachable.
func (s *ExportStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Name implements ports.HealthChecker.
func (s *ExportStore) Name() string {
	return "s3"
}
