package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/s3cli/internal/auth"
	"github.com/stefando/s3cli/internal/storage"
	"github.com/stefando/s3cli/internal/testutil"
	"github.com/stefando/s3cli/internal/upload"
)

type stubPresigner struct{}

func (stubPresigner) PresignUploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://s3.example/%s?partNumber=%d", aws.ToString(in.Key), aws.ToInt32(in.PartNumber)),
		Method: http.MethodPut,
	}, nil
}

func newTestServer(mock *testutil.MockS3Client, authn *auth.Authenticator) http.Handler {
	return New(Config{
		Storage:       storage.NewService(mock, zerolog.Nop()),
		Uploads:       upload.NewPresignedUploads(mock, stubPresigner{}, time.Hour, zerolog.Nop()),
		Authenticator: authn,
		Location:      "us-west-2",
		Logger:        zerolog.Nop(),
	}).Router()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&testutil.MockS3Client{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestBucketRoutes(t *testing.T) {
	var createdLocation types.BucketLocationConstraint
	mock := &testutil.MockS3Client{
		ListBucketsFunc: func(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return &s3.ListBucketsOutput{Buckets: []types.Bucket{{Name: aws.String("alpha")}}}, nil
		},
		CreateBucketFunc: func(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
			if in.CreateBucketConfiguration != nil {
				createdLocation = in.CreateBucketConfiguration.LocationConstraint
			}
			return &s3.CreateBucketOutput{}, nil
		},
		HeadBucketFunc: func(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			if aws.ToString(in.Bucket) == "missing" {
				return nil, &smithy.GenericAPIError{Code: "NotFound"}
			}
			return &s3.HeadBucketOutput{}, nil
		},
		DeleteBucketFunc: func(context.Context, *s3.DeleteBucketInput, ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "BucketNotEmpty", Message: "not empty"}
		},
	}
	h := newTestServer(mock, nil)

	rec := do(t, h, http.MethodGet, "/buckets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"alpha"`)

	rec = do(t, h, http.MethodPut, "/buckets/alpha?location=eu-west-1", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.BucketLocationConstraint("eu-west-1"), createdLocation)

	rec = do(t, h, http.MethodPut, "/buckets/beta", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.BucketLocationConstraint("us-west-2"), createdLocation)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodHead, "/buckets/alpha", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodHead, "/buckets/missing", "").Code)

	rec = do(t, h, http.MethodDelete, "/buckets/alpha", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestObjectRoutes(t *testing.T) {
	var putKey, putBody, putType string
	mock := &testutil.MockS3Client{
		PutObjectFunc: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			putKey = aws.ToString(in.Key)
			putType = aws.ToString(in.ContentType)
			b, _ := io.ReadAll(in.Body)
			putBody = string(b)
			return &s3.PutObjectOutput{ETag: aws.String(`"e1"`)}, nil
		},
		GetObjectFunc: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if aws.ToString(in.Key) == "nope" {
				return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
			}
			return &s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader("hello")),
				ContentType:   aws.String("text/plain"),
				ContentLength: aws.Int64(5),
			}, nil
		},
		ListObjectsV2Func: func(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			assert.Equal(t, "logs/", aws.ToString(in.Prefix))
			return &s3.ListObjectsV2Output{Contents: []types.Object{{Key: aws.String("logs/a"), Size: aws.Int64(3)}}}, nil
		},
	}
	h := newTestServer(mock, nil)

	req := httptest.NewRequest(http.MethodPut, "/buckets/b/objects/dir/file.txt", strings.NewReader("data"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "dir/file.txt", putKey)
	assert.Equal(t, "data", putBody)
	assert.Equal(t, "text/plain", putType)

	rec = do(t, h, http.MethodGet, "/buckets/b/objects/dir/file.txt", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))

	rec = do(t, h, http.MethodGet, "/buckets/b/objects/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	rec = do(t, h, http.MethodGet, "/buckets/b/objects?prefix=logs/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"logs/a"`)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/buckets/b/objects/dir/file.txt", "").Code)
}

func TestPutObject_BodyTooLarge(t *testing.T) {
	putCalls := 0
	mock := &testutil.MockS3Client{
		PutObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			putCalls++
			return &s3.PutObjectOutput{}, nil
		},
	}
	h := New(Config{
		Storage:      storage.NewService(mock, zerolog.Nop()),
		MaxBodyBytes: 4,
		Logger:       zerolog.Nop(),
	}).Router()

	rec := do(t, h, http.MethodPut, "/buckets/b/objects/big.bin", "more than four bytes")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds 4 bytes")
	assert.Zero(t, putCalls)

	rec = do(t, h, http.MethodPut, "/buckets/b/objects/small.bin", "abcd")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, putCalls)
}

func TestUploadRoutes(t *testing.T) {
	mock := &testutil.MockS3Client{
		CreateMultipartUploadFunc: func(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key, UploadId: aws.String("up-1")}, nil
		},
		CompleteMultipartUploadFunc: func(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			return &s3.CompleteMultipartUploadOutput{Location: aws.String("https://b/k")}, nil
		},
		AbortMultipartUploadFunc: func(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
			return nil, &types.NoSuchUpload{}
		},
		ListMultipartUploadsFunc: func(context.Context, *s3.ListMultipartUploadsInput, ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
			return &s3.ListMultipartUploadsOutput{Uploads: []types.MultipartUpload{{Key: aws.String("k"), UploadId: aws.String("up-1")}}}, nil
		},
	}
	h := newTestServer(mock, nil)

	rec := do(t, h, http.MethodPost, "/buckets/b/uploads/initiate", `{"key":"k","size":20,"partSize":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"presignedUrls":{"1":"https://s3.example/k?partNumber=1","2":"https://s3.example/k?partNumber=2"},"uploadId":"up-1","objectKey":"k"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/initiate", `{"key":"k","size":0,"partSize":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/initiate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/complete", `{"uploadId":"up-1","objectKey":"k","partETags":[{"partNumber":1,"eTag":"a"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"objectKey":"k","location":"https://b/k"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/complete", `{"uploadId":"up-1","objectKey":"k","partETags":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/abort", `{"uploadId":"up-1","objectKey":"k"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/buckets/b/uploads/refresh", `{"uploadId":"up-1","objectKey":"k","partNumbers":[2]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"presignedUrls":{"2":"https://s3.example/k?partNumber=2"}}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/buckets/b/uploads", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uploadId":"up-1"`)
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, string) (*oidc.IDToken, error) {
	return nil, fmt.Errorf("rejected")
}

func TestAuthenticationRequired(t *testing.T) {
	authn := auth.NewAuthenticator([]string{"https://issuer.example"}, func(context.Context, string) (auth.TokenVerifier, error) {
		return rejectAll{}, nil
	}, zerolog.Nop())
	h := newTestServer(&testutil.MockS3Client{}, authn)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/buckets", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrBucketNotFound, http.StatusNotFound},
		{storage.ErrObjectNotFound, http.StatusNotFound},
		{storage.ErrNoSuchUpload, http.StatusNotFound},
		{storage.ErrBucketAlreadyExists, http.StatusConflict},
		{storage.ErrBucketNotEmpty, http.StatusConflict},
		{storage.ErrInvalidInput, http.StatusBadRequest},
		{storage.ErrAccessDenied, http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
		{&upload.SessionError{Err: storage.NewError("uploadPart", "b", "k", &smithy.GenericAPIError{Code: "AccessDenied"})}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestLoginRoute(t *testing.T) {
	cognito := &testutil.MockCognitoClient{
		InitiateAuthFunc: func(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
			if in.AuthParameters["PASSWORD"] != "pw" {
				return nil, fmt.Errorf("NotAuthorizedException")
			}
			return &cip.InitiateAuthOutput{AuthenticationResult: &ciptypes.AuthenticationResultType{AccessToken: aws.String("access"), ExpiresIn: 60}}, nil
		},
	}
	h := New(Config{
		Storage: storage.NewService(&testutil.MockS3Client{}, zerolog.Nop()),
		Login:   auth.NewLoginService(cognito),
		Logger:  zerolog.Nop(),
	}).Router()

	rec := do(t, h, http.MethodPost, "/auth/login", `{"clientId":"c","username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"access"`)

	rec = do(t, h, http.MethodPost, "/auth/login", `{"clientId":"c","username":"alice","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/login", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type acceptAll struct{}

func (acceptAll) Verify(context.Context, string) (*oidc.IDToken, error) {
	return &oidc.IDToken{Issuer: "https://issuer.example", Subject: "user-1"}, nil
}

func TestMeRoute(t *testing.T) {
	authn := auth.NewAuthenticator([]string{"https://issuer.example"}, func(context.Context, string) (auth.TokenVerifier, error) {
		return acceptAll{}, nil
	}, zerolog.Nop())
	h := newTestServer(&testutil.MockS3Client{}, authn)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "https://issuer.example", Subject: "user-1"}).SignedString([]byte("k"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"user-1"`)
}
