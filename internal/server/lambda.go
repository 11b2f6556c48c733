package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// LambdaHandler adapts API Gateway proxy events to handler.
func LambdaHandler(handler http.Handler, logger zerolog.Logger) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		httpReq, err := createHTTPRequest(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create HTTP request")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusInternalServerError,
				Body:       "Internal server error",
			}, nil
		}

		if req.RequestContext.RequestID != "" && httpReq.Header.Get("X-Request-Id") == "" {
			httpReq.Header.Set("X-Request-Id", req.RequestContext.RequestID)
		}

		rec := newResponseRecorder()
		handler.ServeHTTP(rec, httpReq)
		return rec.response(), nil
	}
}

// createHTTPRequest creates an http.Request from an API Gateway event
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.Body != "" {
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to decode body: %w", err)
			}
			body = bytes.NewReader(decoded)
		} else {
			body = strings.NewReader(req.Body)
		}
	}

	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, body)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for param, values := range req.MultiValueQueryStringParameters {
		for _, v := range values {
			query.Add(param, v)
		}
	}
	if len(query) == 0 {
		for param, value := range req.QueryStringParameters {
			query.Add(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	for key, values := range req.MultiValueHeaders {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, value := range req.Headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	return httpReq, nil
}

// responseRecorder captures the router's HTTP response
type responseRecorder struct {
	headers    http.Header
	body       bytes.Buffer
	statusCode int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		headers:    make(http.Header),
		statusCode: http.StatusOK,
	}
}

// Header implements the http.ResponseWriter interface
func (r *responseRecorder) Header() http.Header {
	return r.headers
}

// Write implements the http.ResponseWriter interface
func (r *responseRecorder) Write(body []byte) (int, error) {
	return r.body.Write(body)
}

// WriteHeader implements the http.ResponseWriter interface
func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

// response converts the captured response. Bodies that are not valid UTF-8
// are base64 encoded.
func (r *responseRecorder) response() events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode:        r.statusCode,
		MultiValueHeaders: map[string][]string(r.headers),
	}
	if utf8.Valid(r.body.Bytes()) {
		resp.Body = r.body.String()
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(r.body.Bytes())
		resp.IsBase64Encoded = true
	}
	return resp
}
