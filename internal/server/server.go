// Package server exposes bucket, object and presigned multipart operations
// over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stefando/s3cli/internal/auth"
	"github.com/stefando/s3cli/internal/storage"
	"github.com/stefando/s3cli/internal/upload"
)

// Config holds the services the gateway routes to.
type Config struct {
	Storage *storage.Service
	Uploads *upload.PresignedUploads
	// Authenticator protects every route except /health and /auth/login
	// when set.
	Authenticator *auth.Authenticator
	// Login enables POST /auth/login when set.
	Login *auth.LoginService
	// Location is the default location constraint for created buckets.
	Location string
	// MaxBodyBytes caps object bodies accepted by PUT. Non-positive
	// selects DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

// DefaultMaxBodyBytes is the default cap on object bodies sent through the
// gateway. Larger objects go through presigned multipart uploads.
const DefaultMaxBodyBytes = 64 << 20

// Server is the HTTP gateway.
type Server struct {
	storage  *storage.Service
	uploads  *upload.PresignedUploads
	authn    *auth.Authenticator
	login    *auth.LoginService
	location string
	maxBody  int64
	validate *validator.Validate
	logger   zerolog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Server{
		storage:  cfg.Storage,
		uploads:  cfg.Uploads,
		authn:    cfg.Authenticator,
		login:    cfg.Login,
		location: cfg.Location,
		maxBody:  maxBody,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger,
	}
}

// Router creates and configures the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.login != nil {
		r.Post("/auth/login", s.handleLogin)
	}

	r.Group(func(r chi.Router) {
		if s.authn != nil {
			r.Use(s.authn.Middleware)
			r.Get("/auth/me", s.handleMe)
		}

		r.Get("/buckets", s.handleListBuckets)
		r.Route("/buckets/{bucket}", func(r chi.Router) {
			r.Put("/", s.handleCreateBucket)
			r.Delete("/", s.handleDeleteBucket)
			r.Head("/", s.handleHeadBucket)

			r.Get("/objects", s.handleListObjects)
			r.Put("/objects/*", s.handlePutObject)
			r.Get("/objects/*", s.handleGetObject)
			r.Delete("/objects/*", s.handleDeleteObject)

			r.Route("/uploads", func(r chi.Router) {
				r.Get("/", s.handleListUploads)
				r.Post("/initiate", s.handleInitiateUpload)
				r.Post("/complete", s.handleCompleteUpload)
				r.Post("/abort", s.handleAbortUpload)
				r.Post("/refresh", s.handleRefreshUpload)
			})
		})
	})

	return r
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// loginBody is the POST /auth/login payload.
type loginBody struct {
	ClientID   string `json:"clientId" validate:"required_without_all=UserPool ClientName"`
	UserPool   string `json:"userPool" validate:"required_with=ClientName"`
	ClientName string `json:"clientName" validate:"required_with=UserPool"`
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !s.decode(w, r, &body) {
		return
	}

	resp, err := s.login.Authenticate(r.Context(), &auth.LoginRequest{
		ClientID:   body.ClientID,
		UserPool:   body.UserPool,
		ClientName: body.ClientName,
		Username:   body.Username,
		Password:   body.Password,
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("username", body.Username).Msg("authentication failed")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.storage.ListBuckets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	location := r.URL.Query().Get("location")
	if location == "" {
		location = s.location
	}
	if err := s.storage.CreateBucket(r.Context(), bucket, location); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"bucket": bucket})
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.DeleteBucket(r.Context(), chi.URLParam(r, "bucket")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeadBucket(w http.ResponseWriter, r *http.Request) {
	exists, err := s.storage.BucketExists(r.Context(), chi.URLParam(r, "bucket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.storage.ListObjects(r.Context(), chi.URLParam(r, "bucket"), r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objects)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	// S3 needs a seekable body to sign the payload.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("object body exceeds %d bytes; use a multipart upload", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Failed to read request body"})
		return
	}

	bucket, key := chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
	etag, err := s.storage.PutObject(r.Context(), bucket, key, bytes.NewReader(body), r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key, "eTag": etag})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	download, err := s.storage.GetObject(r.Context(), chi.URLParam(r, "bucket"), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer download.Body.Close()

	if download.ContentType != "" {
		w.Header().Set("Content-Type", download.ContentType)
	}
	if download.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, download.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to stream object")
	}
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.DeleteObject(r.Context(), chi.URLParam(r, "bucket"), chi.URLParam(r, "*")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.storage.ListMultipartUploads(r.Context(), chi.URLParam(r, "bucket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploads)
}

func (s *Server) handleInitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.InitiateUploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.uploads.Initiate(r.Context(), chi.URLParam(r, "bucket"), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.CompleteUploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.uploads.Complete(r.Context(), chi.URLParam(r, "bucket"), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.AbortUploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.uploads.Abort(r.Context(), chi.URLParam(r, "bucket"), &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.RefreshUploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.uploads.Refresh(r.Context(), chi.URLParam(r, "bucket"), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrBucketNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, storage.ErrNoSuchUpload):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrBucketAlreadyExists),
		errors.Is(err, storage.ErrBucketNotEmpty):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrAccessDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	event := zerolog.Ctx(r.Context()).Warn()
	if status == http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Int("status", status).Msg("request failed")

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down gateway")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
