package providers

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthCredentialConfig configures a refreshing OAuth credential for a
// provider whose API key is a short-lived OAuth access token.
type OAuthCredentialConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
	Scopes       []string
}

// OAuthCredential hands out a current access token on demand, refreshing it
// through the token endpoint when it expires. It is safe for concurrent use.
type OAuthCredential struct {
	source oauth2.TokenSource
}

// NewOAuthCredential builds a credential from a long-lived refresh token.
func NewOAuthCredential(ctx context.Context, cfg OAuthCredentialConfig) (*OAuthCredential, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("oauth credential: token_url is required")
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, fmt.Errorf("oauth credential: refresh_token is required")
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	base := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	// ReuseTokenSource caches the access token until expiry and serializes
	// refreshes across callers.
	return &OAuthCredential{source: oauth2.ReuseTokenSource(nil, conf.TokenSource(ctx, base))}, nil
}

// Token returns a currently valid access token.
func (c *OAuthCredential) Token() (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth credential: %w", err)
	}
	return tok.AccessToken, nil
}

// Resolver adapts the credential to the per-request API-key resolution hook,
// so long-running turns pick up refreshed tokens between LLM calls.
func (c *OAuthCredential) Resolver() func(ctx context.Context, provider string) (string, error) {
	return func(ctx context.Context, provider string) (string, error) {
		return c.Token()
	}
}
