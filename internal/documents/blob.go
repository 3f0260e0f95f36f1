package documents

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore persists document binaries. Uploads overwrite existing objects.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Bucket() string
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes documents to a single bucket.
type S3Store struct {
	bucket   string
	s3Client S3API
}

// NewS3Store creates a blob store over bucket.
func NewS3Store(s3Client S3API, bucket string) *S3Store {
	if s3Client == nil {
		panic("documents: s3 client required")
	}
	return &S3Store{bucket: bucket, s3Client: s3Client}
}

func (s *S3Store) Bucket() string { return s.bucket }

func (s *S3Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("documents: s3 put %s: %w", path, err)
	}
	return nil
}
