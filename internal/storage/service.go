// Package storage implements the single-call bucket and object operations
// of s3cli on top of the S3 API.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/stefando/s3cli/internal/s3api"
)

// Bucket describes a bucket owned by the caller.
type Bucket struct {
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creationDate"`
}

// Object describes one object in a listing.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"eTag"`
	LastModified time.Time `json:"lastModified"`
}

// Upload describes a multipart upload that has been initiated but not
// completed or aborted.
type Upload struct {
	Key       string    `json:"key"`
	UploadID  string    `json:"uploadId"`
	Initiated time.Time `json:"initiated"`
}

// Download is an object body being streamed from the service. The caller
// closes Body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Service performs bucket and object operations.
type Service struct {
	client s3api.S3API
	logger zerolog.Logger
}

// NewService creates a storage service using the given S3 client.
func NewService(client s3api.S3API, logger zerolog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

func requireBucket(op, bucket string) error {
	if bucket == "" {
		return &Error{Op: op, Err: fmt.Errorf("%w: bucket name cannot be empty", ErrInvalidInput)}
	}
	return nil
}

func requireObject(op, bucket, key string) error {
	if err := requireBucket(op, bucket); err != nil {
		return err
	}
	if key == "" {
		return &Error{Op: op, Bucket: bucket, Err: fmt.Errorf("%w: object key cannot be empty", ErrInvalidInput)}
	}
	return nil
}

// CreateBucket creates bucket in the given location. An empty location or
// us-east-1 sends no location constraint.
func (s *Service) CreateBucket(ctx context.Context, bucket, location string) error {
	if err := requireBucket("createBucket", bucket); err != nil {
		return err
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if location != "" && location != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(location),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return NewError("createBucket", bucket, "", err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("location", location).Msg("bucket created")
	return nil
}

// DeleteBucket deletes an empty bucket.
func (s *Service) DeleteBucket(ctx context.Context, bucket string) error {
	if err := requireBucket("deleteBucket", bucket); err != nil {
		return err
	}
	if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return NewError("deleteBucket", bucket, "", err)
	}
	return nil
}

// BucketExists reports whether bucket exists and is reachable with the
// current credentials.
func (s *Service) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := requireBucket("headBucket", bucket); err != nil {
		return false, err
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	wrapped := NewError("headBucket", bucket, "", err)
	if IsNotFound(wrapped) {
		return false, nil
	}
	return false, wrapped
}

// ListBuckets returns every bucket owned by the caller.
func (s *Service) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	input := &s3.ListBucketsInput{}
	for {
		out, err := s.client.ListBuckets(ctx, input)
		if err != nil {
			return nil, NewError("listBuckets", "", "", err)
		}
		for _, b := range out.Buckets {
			buckets = append(buckets, Bucket{
				Name:         aws.ToString(b.Name),
				CreationDate: aws.ToTime(b.CreationDate),
			})
		}
		if aws.ToString(out.ContinuationToken) == "" {
			return buckets, nil
		}
		input.ContinuationToken = out.ContinuationToken
	}
}

// ListObjects returns every object in bucket whose key starts with prefix.
func (s *Service) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if err := requireBucket("listObjects", bucket); err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, NewError("listObjects", bucket, "", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// PutObject uploads body as bucket/key and returns the object's ETag.
func (s *Service) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	if err := requireObject("putObject", bucket, key); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", NewError("putObject", bucket, key, err)
	}
	return aws.ToString(out.ETag), nil
}

// PutFile uploads the local file at path as bucket/key. The content type
// is detected from the file's leading bytes.
func (s *Service) PutFile(ctx context.Context, bucket, key, path string) (string, error) {
	if err := requireObject("putObject", bucket, key); err != nil {
		return "", err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s.logger.Debug().Str("path", path).Str("content_type", mtype.String()).Msg("uploading file")
	return s.PutObject(ctx, bucket, key, f, mtype.String())
}

// GetObject opens bucket/key for reading.
func (s *Service) GetObject(ctx context.Context, bucket, key string) (*Download, error) {
	if err := requireObject("getObject", bucket, key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, NewError("getObject", bucket, key, err)
	}
	return &Download{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
	}, nil
}

// DeleteObject deletes bucket/key.
func (s *Service) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := requireObject("deleteObject", bucket, key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewError("deleteObject", bucket, key, err)
	}
	return nil
}

// ListMultipartUploads returns the in-progress multipart uploads of bucket.
func (s *Service) ListMultipartUploads(ctx context.Context, bucket string) ([]Upload, error) {
	if err := requireBucket("listMultipartUploads", bucket); err != nil {
		return nil, err
	}

	var uploads []Upload
	input := &s3.ListMultipartUploadsInput{Bucket: aws.String(bucket)}
	for {
		out, err := s.client.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, NewError("listMultipartUploads", bucket, "", err)
		}
		for _, u := range out.Uploads {
			uploads = append(uploads, Upload{
				Key:       aws.ToString(u.Key),
				UploadID:  aws.ToString(u.UploadId),
				Initiated: aws.ToTime(u.Initiated),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return uploads, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}
