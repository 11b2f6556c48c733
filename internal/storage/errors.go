package storage

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Error is a failed storage operation with the bucket and key it targeted.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Key != "":
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrObjectNotFound      = errors.New("object not found")
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	ErrBucketNotEmpty      = errors.New("bucket not empty")
	ErrAccessDenied        = errors.New("access denied")
	ErrNoSuchUpload        = errors.New("no such multipart upload")
)

// NewError wraps err for op, attaching a sentinel when the service error
// code is one we recognise. The service error stays in the chain.
func NewError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: classify(err)}
}

func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var sentinel error
	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		sentinel = ErrBucketNotFound
	case "NoSuchKey", "NotFound":
		sentinel = ErrObjectNotFound
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		sentinel = ErrBucketAlreadyExists
	case "BucketNotEmpty":
		sentinel = ErrBucketNotEmpty
	case "AccessDenied", "Forbidden":
		sentinel = ErrAccessDenied
	case "NoSuchUpload":
		sentinel = ErrNoSuchUpload
	case "InvalidBucketName", "MalformedXML", "InvalidArgument", "InvalidPart", "InvalidPartOrder":
		sentinel = ErrInvalidInput
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// IsNotFound reports whether err means the bucket or object is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound) || errors.Is(err, ErrObjectNotFound)
}
