// Package upload drives S3 multipart uploads: the interactive
// initiate / upload parts / complete sequence used by the CLI and the
// presigned variant used by the HTTP gateway.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/stefando/s3cli/internal/s3api"
	"github.com/stefando/s3cli/internal/storage"
)

// EndSentinel is the input line that closes the part list.
const EndSentinel = "END"

// Session identifies one in-progress multipart upload.
type Session struct {
	Bucket   string
	Key      string
	UploadID string
}

// Part is one uploaded part and the ETag the service returned for it.
type Part struct {
	PartNumber int32
	ETag       string
}

// Result is a completed multipart upload.
type Result struct {
	Session  Session
	Parts    []Part
	Location string
	ETag     string
}

// Phase names the step of a multipart upload that failed.
type Phase string

const (
	PhaseUploadPart Phase = "upload part"
	PhaseComplete   Phase = "complete"
)

// SessionError is a failure after the upload was initiated. The session
// is still open on the service until it is completed or aborted.
type SessionError struct {
	Session    Session
	Phase      Phase
	PartNumber int32
	Err        error
}

func (e *SessionError) Error() string {
	if e.Phase == PhaseUploadPart && e.PartNumber > 0 {
		return fmt.Sprintf("multipart upload %s: %s %d: %v", e.Session.UploadID, e.Phase, e.PartNumber, e.Err)
	}
	return fmt.Sprintf("multipart upload %s: %s: %v", e.Session.UploadID, e.Phase, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Uploader runs multipart uploads against S3.
type Uploader struct {
	client      s3api.S3API
	logger      zerolog.Logger
	prompt      io.Writer
	contentType string
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger used for progress events.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithPrompt sets where operator prompts are written.
func WithPrompt(w io.Writer) Option {
	return func(u *Uploader) { u.prompt = w }
}

// WithContentType sets the content type of the assembled object.
func WithContentType(contentType string) Option {
	return func(u *Uploader) { u.contentType = contentType }
}

// NewUploader creates an Uploader. Prompts are discarded unless WithPrompt
// is given.
func NewUploader(client s3api.S3API, opts ...Option) *Uploader {
	u := &Uploader{
		client: client,
		logger: zerolog.Nop(),
		prompt: io.Discard,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run initiates a multipart upload of bucket/key and uploads one part per
// line read from input, each line naming a local file. Reading stops at
// EndSentinel or end of input and the upload is then completed with the
// parts uploaded so far, possibly none.
//
// Failures after the upload was initiated are returned as *SessionError.
// Run never aborts the session itself.
func (u *Uploader) Run(ctx context.Context, bucket, key string, input io.Reader) (*Result, error) {
	session, err := u.Initiate(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(u.prompt, "1. Initiated multipart upload %s.\n", session.UploadID)
	fmt.Fprintf(u.prompt, "2. Enter part file paths one per line, %s to finish:\n", EndSentinel)

	parts, err := u.uploadParts(ctx, session, bufio.NewReader(input))
	if err != nil {
		return nil, err
	}

	result, err := u.Complete(ctx, session, parts)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(u.prompt, "Completed multipart upload.")
	return result, nil
}

func (u *Uploader) uploadParts(ctx context.Context, session Session, input *bufio.Reader) ([]Part, error) {
	parts := []Part{}
	for {
		path, ok, err := readPath(input)
		if err != nil {
			return nil, &SessionError{Session: session, Phase: PhaseUploadPart, Err: fmt.Errorf("failed to read input: %w", err)}
		}
		if !ok {
			return parts, nil
		}

		partNumber := int32(len(parts) + 1)
		part, err := u.uploadFile(ctx, session, partNumber, path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
}

// readPath returns the next path from input. ok is false once the
// sentinel or end of input is reached.
func readPath(input *bufio.Reader) (path string, ok bool, err error) {
	line, err := input.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	if errors.Is(err, io.EOF) && line == "" {
		return "", false, nil
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if line == EndSentinel {
		return "", false, nil
	}
	return line, true, nil
}

func (u *Uploader) uploadFile(ctx context.Context, session Session, partNumber int32, path string) (Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return Part{}, &SessionError{Session: session, Phase: PhaseUploadPart, PartNumber: partNumber, Err: fmt.Errorf("failed to open part file: %w", err)}
	}
	defer f.Close()

	part, err := u.UploadPart(ctx, session, partNumber, f)
	if err != nil {
		return Part{}, err
	}
	u.logger.Info().Int32("part", partNumber).Str("path", path).Str("etag", part.ETag).Msg("part uploaded")
	return part, nil
}

// Initiate starts a multipart upload. The returned session carries the
// bucket name confirmed by the service.
func (u *Uploader) Initiate(ctx context.Context, bucket, key string) (Session, error) {
	if bucket == "" || key == "" {
		return Session{}, &storage.Error{Op: "createMultipartUpload", Bucket: bucket, Key: key,
			Err: fmt.Errorf("%w: bucket and key are required", storage.ErrInvalidInput)}
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if u.contentType != "" {
		input.ContentType = aws.String(u.contentType)
	}

	out, err := u.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return Session{}, storage.NewError("createMultipartUpload", bucket, key, err)
	}

	session := Session{
		Bucket:   aws.ToString(out.Bucket),
		Key:      key,
		UploadID: aws.ToString(out.UploadId),
	}
	if session.Bucket == "" {
		session.Bucket = bucket
	}
	if session.UploadID == "" {
		return Session{}, storage.NewError("createMultipartUpload", bucket, key, errors.New("service returned no upload id"))
	}

	u.logger.Debug().Str("bucket", session.Bucket).Str("key", key).Str("upload_id", session.UploadID).Msg("multipart upload initiated")
	return session, nil
}

// UploadPart uploads body as part partNumber of session.
func (u *Uploader) UploadPart(ctx context.Context, session Session, partNumber int32, body io.Reader) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, &SessionError{Session: session, Phase: PhaseUploadPart, PartNumber: partNumber, Err: err}
	}

	out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(session.Bucket),
		Key:        aws.String(session.Key),
		UploadId:   aws.String(session.UploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       body,
	})
	if err != nil {
		return Part{}, &SessionError{Session: session, Phase: PhaseUploadPart, PartNumber: partNumber,
			Err: storage.NewError("uploadPart", session.Bucket, session.Key, err)}
	}
	return Part{PartNumber: partNumber, ETag: aws.ToString(out.ETag)}, nil
}

// Complete finishes session with parts, which must be in ascending part
// number order.
func (u *Uploader) Complete(ctx context.Context, session Session, parts []Part) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SessionError{Session: session, Phase: PhaseComplete, Err: err}
	}
	if len(parts) == 0 {
		u.logger.Warn().Str("upload_id", session.UploadID).Msg("completing multipart upload with no parts")
	}

	out, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(session.Bucket),
		Key:             aws.String(session.Key),
		UploadId:        aws.String(session.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completedParts(parts)},
	})
	if err != nil {
		return nil, &SessionError{Session: session, Phase: PhaseComplete,
			Err: storage.NewError("completeMultipartUpload", session.Bucket, session.Key, err)}
	}

	return &Result{
		Session:  session,
		Parts:    parts,
		Location: aws.ToString(out.Location),
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// Abort cancels session and discards its uploaded parts.
func (u *Uploader) Abort(ctx context.Context, session Session) error {
	_, err := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(session.Bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	if err != nil {
		return storage.NewError("abortMultipartUpload", session.Bucket, session.Key, err)
	}
	u.logger.Debug().Str("upload_id", session.UploadID).Msg("multipart upload aborted")
	return nil
}

func completedParts(parts []Part) []types.CompletedPart {
	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		}
	}
	return completed
}
