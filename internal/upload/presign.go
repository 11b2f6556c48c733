package upload

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/stefando/s3cli/internal/s3api"
	"github.com/stefando/s3cli/internal/storage"
)

const (
	// MaxParts is the largest part count S3 accepts for one upload.
	MaxParts = 10000

	// DefaultPresignTTL is how long presigned part URLs stay valid.
	DefaultPresignTTL = 2 * time.Hour
)

// Presigner signs UploadPart requests. *s3.PresignClient implements it.
type Presigner interface {
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignedUploads runs multipart uploads whose parts are sent by a remote
// client straight to S3 through presigned URLs.
type PresignedUploads struct {
	client    s3api.S3API
	presigner Presigner
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewPresignedUploads creates a PresignedUploads. A non-positive ttl
// selects DefaultPresignTTL.
func NewPresignedUploads(client s3api.S3API, presigner Presigner, ttl time.Duration, logger zerolog.Logger) *PresignedUploads {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &PresignedUploads{client: client, presigner: presigner, ttl: ttl, logger: logger}
}

// Initiate starts a multipart upload in bucket and presigns every part.
func (p *PresignedUploads) Initiate(ctx context.Context, bucket string, req *InitiateUploadRequest) (*InitiateUploadResponse, error) {
	if req.Size <= 0 || req.PartSize <= 0 {
		return nil, fmt.Errorf("%w: size and part size must be greater than zero", storage.ErrInvalidInput)
	}
	numParts := req.Size / req.PartSize
	if req.Size%req.PartSize != 0 {
		numParts++
	}
	if numParts > MaxParts {
		return nil, fmt.Errorf("%w: %d parts exceeds the limit of %d", storage.ErrInvalidInput, numParts, MaxParts)
	}

	key := req.Key
	if key == "" {
		key = GenerateKey(time.Now())
	}

	uploader := NewUploader(p.client, WithLogger(p.logger), WithContentType(req.ContentType))
	session, err := uploader.Initiate(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	partNumbers := make([]int, int(numParts))
	for i := range partNumbers {
		partNumbers[i] = i + 1
	}

	urls, err := p.presignParts(ctx, session, partNumbers)
	if err != nil {
		// Nothing was handed out, so the session cannot be used.
		if abortErr := uploader.Abort(ctx, session); abortErr != nil {
			p.logger.Warn().Err(abortErr).Str("upload_id", session.UploadID).Msg("failed to abort multipart upload")
		}
		return nil, err
	}

	return &InitiateUploadResponse{
		PresignedUrls: urls,
		UploadID:      session.UploadID,
		ObjectKey:     session.Key,
	}, nil
}

// Complete assembles the uploaded parts. Parts may be listed in any order.
func (p *PresignedUploads) Complete(ctx context.Context, bucket string, req *CompleteUploadRequest) (*CompleteUploadResponse, error) {
	if len(req.PartETags) == 0 {
		return nil, fmt.Errorf("%w: part ETags cannot be empty", storage.ErrInvalidInput)
	}

	parts := make([]Part, len(req.PartETags))
	for i, tag := range req.PartETags {
		parts[i] = Part{PartNumber: int32(tag.PartNumber), ETag: tag.ETag}
	}
	slices.SortFunc(parts, func(a, b Part) int { return cmp.Compare(a.PartNumber, b.PartNumber) })

	session := Session{Bucket: bucket, Key: req.ObjectKey, UploadID: req.UploadID}
	result, err := NewUploader(p.client, WithLogger(p.logger)).Complete(ctx, session, parts)
	if err != nil {
		return nil, err
	}
	return &CompleteUploadResponse{ObjectKey: req.ObjectKey, Location: result.Location}, nil
}

// Abort cancels a multipart upload.
func (p *PresignedUploads) Abort(ctx context.Context, bucket string, req *AbortUploadRequest) error {
	session := Session{Bucket: bucket, Key: req.ObjectKey, UploadID: req.UploadID}
	return NewUploader(p.client, WithLogger(p.logger)).Abort(ctx, session)
}

// Refresh presigns the requested parts again.
func (p *PresignedUploads) Refresh(ctx context.Context, bucket string, req *RefreshUploadRequest) (*RefreshUploadResponse, error) {
	session := Session{Bucket: bucket, Key: req.ObjectKey, UploadID: req.UploadID}
	urls, err := p.presignParts(ctx, session, req.PartNumbers)
	if err != nil {
		return nil, err
	}
	return &RefreshUploadResponse{PresignedUrls: urls}, nil
}

func (p *PresignedUploads) presignParts(ctx context.Context, session Session, partNumbers []int) (map[int]string, error) {
	urls := make(map[int]string, len(partNumbers))
	for _, n := range partNumbers {
		req, err := p.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(session.Bucket),
			Key:        aws.String(session.Key),
			UploadId:   aws.String(session.UploadID),
			PartNumber: aws.Int32(int32(n)),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = p.ttl
		})
		if err != nil {
			return nil, fmt.Errorf("failed to presign part %d: %w", n, err)
		}
		urls[n] = req.URL
	}
	return urls, nil
}
