// Package auth authenticates API callers. Three modes: disabled (default,
// every request passes), token (static bearer token for CI uploaders), and
// oidc (bearer ID tokens verified against an OIDC issuer).
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reporthub-labs/reporthub-go/internal/platform/env"
)

type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeOIDC     Mode = "oidc"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
)

type Config struct {
	Mode Mode

	// Token mode.
	Token string

	// OIDC mode.
	OIDCIssuerURL string
	OIDCClientID  string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("REPORTHUB_AUTH_MODE", string(ModeDisabled))))
	var mode Mode
	switch modeRaw {
	case string(ModeDisabled):
		mode = ModeDisabled
	case string(ModeToken):
		mode = ModeToken
	case string(ModeOIDC):
		mode = ModeOIDC
	default:
		return Config{}, fmt.Errorf("REPORTHUB_AUTH_MODE must be one of: disabled, token, oidc (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:          mode,
		Token:         env.String("REPORTHUB_AUTH_TOKEN", ""),
		OIDCIssuerURL: env.String("REPORTHUB_OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("REPORTHUB_OIDC_CLIENT_ID", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDisabled:
	case ModeToken:
		if strings.TrimSpace(c.Token) == "" {
			return errors.New("REPORTHUB_AUTH_TOKEN is required when REPORTHUB_AUTH_MODE=token")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("REPORTHUB_OIDC_ISSUER_URL is required when REPORTHUB_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("REPORTHUB_OIDC_CLIENT_ID is required when REPORTHUB_AUTH_MODE=oidc")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}
