package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://cognito-idp.us-west-2.amazonaws.com/us-west-2_test"

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*oidc.IDToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	return &oidc.IDToken{Issuer: claims.Issuer, Subject: claims.Subject, Expiry: claims.ExpiresAt.Time}, nil
}

func signToken(t *testing.T, issuer, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour).Truncate(time.Second)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestIssuerFromToken(t *testing.T) {
	issuer, err := IssuerFromToken(signToken(t, testIssuer, "user-1"))
	require.NoError(t, err)
	assert.Equal(t, testIssuer, issuer)

	_, err = IssuerFromToken(signToken(t, "", "user-1"))
	assert.ErrorIs(t, err, ErrMissingIssuer)

	_, err = IssuerFromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestStripBearerPrefix(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer abc ", want: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer ", ok: false},
		{header: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := stripBearerPrefix(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	factoryCalls := 0
	factory := func(_ context.Context, issuer string) (TokenVerifier, error) {
		factoryCalls++
		assert.Equal(t, testIssuer, issuer)
		return &fakeVerifier{}, nil
	}
	a := NewAuthenticator([]string{testIssuer}, factory, zerolog.Nop())

	for range 2 {
		p, err := a.Authenticate(context.Background(), "Bearer "+signToken(t, testIssuer, "user-1"))
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.Subject)
		assert.Equal(t, testIssuer, p.Issuer)
		assert.False(t, p.Expiry.IsZero())
	}
	assert.Equal(t, 1, factoryCalls)
}

func TestAuthenticator_Authenticate_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		verifier *fakeVerifier
		factory  error
	}{
		{name: "missing header", header: ""},
		{name: "untrusted issuer", header: "Bearer " + signToken(t, "https://evil.example", "u")},
		{name: "bad signature", header: "Bearer " + signToken(t, testIssuer, "u"), verifier: &fakeVerifier{err: errors.New("bad signature")}},
		{name: "discovery failure", header: "Bearer " + signToken(t, testIssuer, "u"), factory: errors.New("unreachable")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := func(context.Context, string) (TokenVerifier, error) {
				if tt.factory != nil {
					return nil, tt.factory
				}
				if tt.verifier != nil {
					return tt.verifier, nil
				}
				return &fakeVerifier{}, nil
			}
			a := NewAuthenticator([]string{testIssuer}, factory, zerolog.Nop())
			_, err := a.Authenticate(context.Background(), tt.header)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	a := NewAuthenticator([]string{testIssuer}, func(context.Context, string) (TokenVerifier, error) {
		return &fakeVerifier{}, nil
	}, zerolog.Nop())

	var subject string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		subject = p.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/buckets", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testIssuer, "user-7"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-7", subject)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buckets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestAuthenticator_SlowIssuerDoesNotBlockOthers(t *testing.T) {
	const slowIssuer = "https://slow.example"
	release := make(chan struct{})
	started := make(chan struct{})
	factory := func(_ context.Context, issuer string) (TokenVerifier, error) {
		if issuer == slowIssuer {
			close(started)
			<-release
		}
		return &fakeVerifier{}, nil
	}
	a := NewAuthenticator([]string{testIssuer, slowIssuer}, factory, zerolog.Nop())
	slowHeader := "Bearer " + signToken(t, slowIssuer, "u")
	fastHeader := "Bearer " + signToken(t, testIssuer, "u")

	slowDone := make(chan error, 1)
	go func() {
		_, err := a.Authenticate(context.Background(), slowHeader)
		slowDone <- err
	}()
	<-started

	fastDone := make(chan error, 1)
	go func() {
		_, err := a.Authenticate(context.Background(), fastHeader)
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("authentication for one issuer waited on discovery of another")
	}

	close(release)
	require.NoError(t, <-slowDone)
}

func TestAuthenticator_RetriesFailedDiscovery(t *testing.T) {
	calls := 0
	factory := func(context.Context, string) (TokenVerifier, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unreachable")
		}
		return &fakeVerifier{}, nil
	}
	a := NewAuthenticator([]string{testIssuer}, factory, zerolog.Nop())
	header := "Bearer " + signToken(t, testIssuer, "u")

	_, err := a.Authenticate(context.Background(), header)
	require.Error(t, err)
	_, err = a.Authenticate(context.Background(), header)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
