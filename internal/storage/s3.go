package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // Public URL for accessing files (e.g., "http://localhost:9000/documents")
}

// DocumentStorage keeps deal room documents in an S3-compatible bucket
type DocumentStorage struct {
	client    *s3.Client
	bucket    string
	publicURL string
	now       func() time.Time
	newKey    func() string
}

// NewDocumentStorage creates a new S3 document storage client
func NewDocumentStorage(cfg S3Config) *DocumentStorage {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &DocumentStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
		newKey:    func() string { return uuid.New().String() },
	}
}

// UploadInput represents input for uploading a document
type UploadInput struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string // original filename, used for the extension and download name
}

// UploadOutput represents a stored document
type UploadOutput struct {
	Key        string // Object key in S3
	URL        string // Public URL to access the file
	Size       int64
	UploadedAt time.Time
}

// Upload stores a document under a dated random key
func (s *DocumentStorage) Upload(ctx context.Context, in UploadInput) (*UploadOutput, error) {
	key := s.objectKey(in.Filename, in.ContentType)

	put := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        in.Reader,
		ContentType: aws.String(in.ContentType),
	}
	if in.Size > 0 {
		put.ContentLength = aws.Int64(in.Size)
	}
	if in.Filename != "" {
		put.ContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(in.Filename)))
	}

	if _, err := s.client.PutObject(ctx, put); err != nil {
		return nil, fmt.Errorf("uploading to s3: %w", err)
	}

	return &UploadOutput{
		Key:        key,
		URL:        s.URL(key),
		Size:       in.Size,
		UploadedAt: s.now(),
	}, nil
}

// Delete removes a document from S3
func (s *DocumentStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting from s3: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable
func (s *DocumentStorage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("checking bucket: %w", err)
	}
	return nil
}

// URL returns the public URL of an object key
func (s *DocumentStorage) URL(key string) string {
	return s.publicURL + "/" + key
}

func (s *DocumentStorage) objectKey(filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = extensionFromContentType(contentType)
	}
	return fmt.Sprintf("documents/%s/%s%s", s.now().Format("2006/01/02"), s.newKey(), ext)
}

// extensionFromContentType returns file extension based on content type
func extensionFromContentType(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "text/csv":
		return ".csv"
	case "application/zip":
		return ".zip"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
