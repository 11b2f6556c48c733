package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
)

// TokenVerifier verifies a raw JWT against one issuer.
// *oidc.IDTokenVerifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*oidc.IDToken, error)
}

// VerifierFactory builds the verifier for an issuer.
type VerifierFactory func(ctx context.Context, issuer string) (TokenVerifier, error)

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string    `json:"subject"`
	Issuer  string    `json:"issuer"`
	Expiry  time.Time `json:"expiry"`
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Authenticator verifies bearer tokens from a fixed set of OIDC issuers.
// Verifiers are created on first use and cached per issuer.
type Authenticator struct {
	issuers     []string
	newVerifier VerifierFactory
	logger      zerolog.Logger

	mu        sync.Mutex
	verifiers map[string]*issuerVerifier
}

// issuerVerifier serializes discovery for one issuer so a slow issuer
// never holds up the others.
type issuerVerifier struct {
	mu sync.Mutex
	v  TokenVerifier
}

// NewAuthenticator creates an Authenticator trusting issuers. A nil factory
// selects OIDC discovery.
func NewAuthenticator(issuers []string, factory VerifierFactory, logger zerolog.Logger) *Authenticator {
	if factory == nil {
		factory = oidcVerifier
	}
	return &Authenticator{
		issuers:     issuers,
		newVerifier: factory,
		logger:      logger,
		verifiers:   make(map[string]*issuerVerifier),
	}
}

func oidcVerifier(ctx context.Context, issuer string) (TokenVerifier, error) {
	// The provider outlives the request that triggered discovery.
	provider, err := oidc.NewProvider(context.WithoutCancel(ctx), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer %s: %w", issuer, err)
	}
	// Cognito access tokens carry client_id instead of aud.
	return provider.Verifier(&oidc.Config{SkipClientIDCheck: true}), nil
}

func (a *Authenticator) verifier(ctx context.Context, issuer string) (TokenVerifier, error) {
	a.mu.Lock()
	entry, ok := a.verifiers[issuer]
	if !ok {
		entry = &issuerVerifier{}
		a.verifiers[issuer] = entry
	}
	a.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.v != nil {
		return entry.v, nil
	}
	// Failed discovery is retried by the next request.
	v, err := a.newVerifier(ctx, issuer)
	if err != nil {
		return nil, err
	}
	entry.v = v
	return v, nil
}

// Authenticate verifies an Authorization header value.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	raw, ok := stripBearerPrefix(header)
	if !ok || raw == "" {
		return nil, ErrMissingToken
	}

	issuer, err := IssuerFromToken(raw)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(a.issuers, issuer) {
		return nil, fmt.Errorf("issuer %s is not trusted", issuer)
	}

	v, err := a.verifier(ctx, issuer)
	if err != nil {
		return nil, err
	}
	token, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	return &Principal{Subject: token.Subject, Issuer: token.Issuer, Expiry: token.Expiry}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("unauthorized request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}
