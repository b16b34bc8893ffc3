package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// NewAuthenticator builds the authenticator for cfg. OIDC mode reaches the
// issuer's discovery endpoint, so it takes the startup context.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeDisabled:
		return disabledAuthenticator{}, nil
	case ModeToken:
		return &tokenAuthenticator{token: cfg.Token}, nil
	case ModeOIDC:
		return newOIDCAuthenticator(ctx, cfg)
	}
	return nil, ErrUnauthenticated
}

type disabledAuthenticator struct{}

func (disabledAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous"}, nil
}

type tokenAuthenticator struct {
	token string
}

func (a *tokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(raw), []byte(a.token)) != 1 {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{Subject: "token-client"}, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
