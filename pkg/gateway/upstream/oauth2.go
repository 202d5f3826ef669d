// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/networking"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// defaultExchangeTimeout bounds a single upstream token request. There are
// no retries; a failed exchange surfaces to the caller immediately.
const defaultExchangeTimeout = 15 * time.Second

// OIDCProvider implements Provider against an OIDC issuer whose endpoints
// are discovered from the well-known configuration document.
type OIDCProvider struct {
	provider    *oidc.Provider
	oauthConfig oauth2.Config
	auth        Authenticator
	httpClient  *http.Client
	timeout     time.Duration
	verifyID    bool
	now         func() time.Time
}

var _ Provider = (*OIDCProvider)(nil)

// OIDCProviderOption configures an OIDCProvider.
type OIDCProviderOption func(*OIDCProvider)

// WithHTTPClient overrides the HTTP client used for discovery and token
// requests.
func WithHTTPClient(client *http.Client) OIDCProviderOption {
	return func(p *OIDCProvider) {
		p.httpClient = client
	}
}

// WithExchangeTimeout bounds each upstream token request.
func WithExchangeTimeout(d time.Duration) OIDCProviderOption {
	return func(p *OIDCProvider) {
		p.timeout = d
	}
}

// WithIDTokenVerification makes ExchangeCode verify the signature and claims
// of any ID token in the response before returning it.
func WithIDTokenVerification() OIDCProviderOption {
	return func(p *OIDCProvider) {
		p.verifyID = true
	}
}

// WithClock overrides the clock. Tests only.
func WithClock(now func() time.Time) OIDCProviderOption {
	return func(p *OIDCProvider) {
		p.now = now
	}
}

// Discover builds an OIDCProvider from the gateway configuration, resolving
// the upstream endpoints from {issuer}/.well-known/openid-configuration.
func Discover(ctx context.Context, cfg *gateway.Config, auth Authenticator, opts ...OIDCProviderOption) (*OIDCProvider, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	p := &OIDCProvider{
		auth:    auth,
		timeout: defaultExchangeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.httpClient == nil {
		client, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		p.httpClient = client
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), cfg.UpstreamIssuer)
	if err != nil {
		return nil, fmt.Errorf("upstream discovery failed for %s: %w", cfg.UpstreamIssuer, err)
	}
	p.provider = provider
	p.oauthConfig = oauth2.Config{
		ClientID:    cfg.UpstreamClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: cfg.CallbackURL(),
		Scopes:      cfg.UpstreamScopes,
	}
	// There is no client secret; authentication travels as a client
	// assertion in the form body, so client_id must go there too.
	p.oauthConfig.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	logger.Infow("discovered upstream provider",
		"issuer", cfg.UpstreamIssuer,
		"authorization_endpoint", p.oauthConfig.Endpoint.AuthURL,
		"token_endpoint", p.oauthConfig.Endpoint.TokenURL,
	)
	return p, nil
}

// NewVerifier generates a fresh PKCE code verifier for an upstream
// authorization request.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthorizationURL implements Provider. The verifier stays with the gateway;
// only its S256 challenge travels upstream.
func (p *OIDCProvider) AuthorizationURL(state, verifier string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode implements Provider.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, verifier string) (*storage.UpstreamTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	assertion, err := p.auth.ClientAssertion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain client assertion: %w", err)
	}

	tok, err := p.oauthConfig.Exchange(oidc.ClientContext(ctx, p.httpClient), code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("client_assertion_type", oauth.ClientAssertionTypeJWTBearer),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	)
	if err != nil {
		return nil, mapExchangeError(err)
	}

	tokens := tokensFromOAuth2(tok, p.now())
	if p.verifyID && tokens.IDToken != "" {
		verifier := p.provider.Verifier(&oidc.Config{ClientID: p.oauthConfig.ClientID})
		if _, err := verifier.Verify(oidc.ClientContext(ctx, p.httpClient), tokens.IDToken); err != nil {
			return nil, fmt.Errorf("upstream ID token failed verification: %w", err)
		}
	}
	return tokens, nil
}

// RefreshTokens implements Provider. The request is built by hand because
// the refresh grant must carry the client assertion parameters, which the
// oauth2 token source cannot attach.
func (p *OIDCProvider) RefreshTokens(ctx context.Context, refreshToken string, scopes []string) (*storage.UpstreamTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	assertion, err := p.auth.ClientAssertion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain client assertion: %w", err)
	}

	form := url.Values{
		"grant_type":            {oauth.GrantTypeRefreshToken},
		"refresh_token":         {refreshToken},
		"client_id":             {p.oauthConfig.ClientID},
		"client_assertion_type": {oauth.ClientAssertionTypeJWTBearer},
		"client_assertion":      {assertion},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.oauthConfig.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauth.Error
		if jsonErr := json.Unmarshal(body, &oauthErr); jsonErr == nil && oauthErr.Code != "" {
			return nil, &oauthErr
		}
		return nil, fmt.Errorf("upstream token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse upstream token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("upstream token response contained no access token")
	}
	return tokenResp.toTokens(), nil
}
