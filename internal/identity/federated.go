package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Default federated-auth endpoints.
const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"

	googleProviderID = "google.com"
	idpRequestURI    = "http://localhost"
)

// Session is a Firebase session. IDToken is the short-lived bearer token
// for document store calls; RefreshToken mints new ones.
type Session struct {
	UID          string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	Email        string
	DisplayName  string
}

// Federated calls the Firebase Auth REST API.
type Federated struct {
	apiKey         string
	identityURL    string
	secureTokenURL string
	httpClient     *http.Client
	logger         *slog.Logger
	nowFunc        func() time.Time
}

// NewFederated creates a client for the given Firebase web API key.
func NewFederated(apiKey string, httpClient *http.Client, logger *slog.Logger) *Federated {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Federated{
		apiKey:         apiKey,
		identityURL:    DefaultIdentityToolkitURL,
		secureTokenURL: DefaultSecureTokenURL,
		httpClient:     httpClient,
		logger:         logger,
		nowFunc:        time.Now,
	}
}

// WithEndpoints overrides the base URLs.
func (f *Federated) WithEndpoints(identityURL, secureTokenURL string) *Federated {
	f.identityURL = strings.TrimRight(identityURL, "/")
	f.secureTokenURL = strings.TrimRight(secureTokenURL, "/")

	return f
}

type signInRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string      `json:"localId"`
	IDToken      string      `json:"idToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    json.Number `json:"expiresIn"`
	Email        string      `json:"email"`
	DisplayName  string      `json:"displayName"`
}

type refreshResponse struct {
	UserID       string      `json:"user_id"`
	IDToken      string      `json:"id_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
}

// SignInWithIdp exchanges a Google identity token for a Firebase session.
func (f *Federated) SignInWithIdp(ctx context.Context, providerIDToken string) (Session, error) {
	post := url.Values{}
	post.Set("id_token", providerIDToken)
	post.Set("providerId", googleProviderID)

	body, err := json.Marshal(signInRequest{
		PostBody:            post.Encode(),
		RequestURI:          idpRequestURI,
		ReturnIdpCredential: true,
		ReturnSecureToken:   true,
	})
	if err != nil {
		return Session{}, fmt.Errorf("identity: encoding signInWithIdp request: %w", err)
	}

	endpoint := f.identityURL + "/accounts:signInWithIdp?key=" + url.QueryEscape(f.apiKey)

	var resp signInResponse
	if err := f.post(ctx, "signInWithIdp", endpoint, "application/json", body, &resp); err != nil {
		return Session{}, err
	}

	if missing := firstEmpty(map[string]string{
		"localId":      resp.LocalID,
		"idToken":      resp.IDToken,
		"refreshToken": resp.RefreshToken,
		"expiresIn":    resp.ExpiresIn.String(),
	}); missing != "" {
		return Session{}, fmt.Errorf("%w: signInWithIdp %s", ErrMissingField, missing)
	}

	expiresAt, err := f.expiry(resp.ExpiresIn)
	if err != nil {
		return Session{}, err
	}

	f.logger.Info("federated sign-in succeeded", slog.String("uid", resp.LocalID))

	return Session{
		UID:          resp.LocalID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
	}, nil
}

// Refresh mints a new session from a refresh token. The returned
// RefreshToken replaces the one passed in.
func (f *Federated) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := f.secureTokenURL + "/token?key=" + url.QueryEscape(f.apiKey)

	var resp refreshResponse
	if err := f.post(ctx, "token refresh", endpoint, "application/x-www-form-urlencoded",
		[]byte(form.Encode()), &resp); err != nil {
		return Session{}, err
	}

	if missing := firstEmpty(map[string]string{
		"user_id":       resp.UserID,
		"id_token":      resp.IDToken,
		"refresh_token": resp.RefreshToken,
		"expires_in":    resp.ExpiresIn.String(),
	}); missing != "" {
		return Session{}, fmt.Errorf("%w: token refresh %s", ErrMissingField, missing)
	}

	expiresAt, err := f.expiry(resp.ExpiresIn)
	if err != nil {
		return Session{}, err
	}

	f.logger.Debug("session refreshed",
		slog.String("uid", resp.UserID),
		slog.Time("expires_at", expiresAt),
	)

	return Session{
		UID:          resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (f *Federated) post(ctx context.Context, op, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("identity: creating %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("identity: reading %s response: %w", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newHTTPError(op, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("identity: decoding %s response: %w", op, err)
	}

	return nil
}

func (f *Federated) expiry(n json.Number) (time.Time, error) {
	secs, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, fmt.Errorf("identity: invalid expiry %q", n.String())
	}

	return f.nowFunc().Add(time.Duration(secs) * time.Second).UTC(), nil
}

// firstEmpty returns the alphabetically first key whose value is empty.
func firstEmpty(fields map[string]string) string {
	var missing []string

	for k, v := range fields {
		if v == "" {
			missing = append(missing, k)
		}
	}

	if len(missing) == 0 {
		return ""
	}

	slices.Sort(missing)

	return missing[0]
}
