package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

type oidcAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

func newOIDCAuthenticator(ctx context.Context, cfg Config) (*oidcAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})
	return &oidcAuthenticator{verifier: verifier}, nil
}

func (a *oidcAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: idToken.Subject,
		Email:   claims.Email,
	}, nil
}
