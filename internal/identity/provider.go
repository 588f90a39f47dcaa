package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

var defaultScopes = []string{"openid", "email", "profile"}

// ProviderConfig describes the Google OAuth client. AuthURL and TokenURL
// default to Google's endpoints and are overridden in tests.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
}

// ProviderTokens is the subset of the code-exchange response that sign-in
// needs.
type ProviderTokens struct {
	IDToken     string
	AccessToken string
}

// Provider talks to the identity provider's authorize and token endpoints.
type Provider struct {
	clientID   string
	base       oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider creates a Provider. httpClient carries the request timeout.
func NewProvider(pc ProviderConfig, httpClient *http.Client, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := google.Endpoint
	if pc.AuthURL != "" {
		endpoint.AuthURL = pc.AuthURL
	}

	if pc.TokenURL != "" {
		endpoint.TokenURL = pc.TokenURL
	}

	return &Provider{
		clientID: pc.ClientID,
		base: oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       defaultScopes,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// config returns a copy of the OAuth config bound to the request's
// redirect URI.
func (p *Provider) config(req *PendingAuthRequest) *oauth2.Config {
	cfg := p.base
	cfg.RedirectURL = req.RedirectURI

	return &cfg
}

// AuthorizeURL builds the browser URL for req. Offline access and forced
// consent make Google issue a refresh token on every login.
func (p *Provider) AuthorizeURL(req *PendingAuthRequest) string {
	return p.config(req).AuthCodeURL(req.State,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(req.Verifier),
		oauth2.SetAuthURLParam("nonce", req.Nonce),
	)
}

// Exchange trades the authorization code for provider tokens and checks
// that the identity token was minted for this client and this attempt.
func (p *Provider) Exchange(ctx context.Context, req *PendingAuthRequest, code string) (ProviderTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.config(req).Exchange(ctx, code, oauth2.VerifierOption(req.Verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return ProviderTokens{}, newHTTPError("token exchange", re.Response.StatusCode, re.Body)
		}

		return ProviderTokens{}, fmt.Errorf("identity: token exchange: %w", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return ProviderTokens{}, fmt.Errorf("%w: id_token", ErrMissingField)
	}

	if err := p.verifyIDToken(rawID, req.Nonce); err != nil {
		return ProviderTokens{}, err
	}

	p.logger.Info("provider token exchange succeeded")

	return ProviderTokens{IDToken: rawID, AccessToken: tok.AccessToken}, nil
}

// verifyIDToken checks the nonce and audience claims. The signature is
// verified downstream by the federated-auth backend.
func (p *Provider) verifyIDToken(raw, nonce string) error {
	payload, err := idtoken.ParsePayload(raw)
	if err != nil {
		return fmt.Errorf("identity: parsing id_token: %w", err)
	}

	if payload.Audience != p.clientID {
		return fmt.Errorf("identity: id_token audience %q does not match client", payload.Audience)
	}

	got, _ := payload.Claims["nonce"].(string)
	if got != nonce {
		return errors.New("identity: id_token nonce does not match login attempt")
	}

	return nil
}
