// Package backend talks to the REST backend that issues session access tokens.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/dkeye/videoroom/internal/core"
)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 1 << 10
)

var (
	ErrMissingBaseURL   = errors.New("backend base url is not configured")
	ErrMissingSessionID = errors.New("session id is required")
	ErrEmptyToken       = errors.New("backend returned an empty token")
)

// StatusError is returned for non-2xx responses from the token endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Code, e.Body)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// TokenClient fetches tokens from POST {base}/sessions/{id}/token,
// authenticating with the caller's bearer credential.
type TokenClient struct {
	base    *url.URL
	timeout time.Duration
	hc      *http.Client
}

var _ core.TokenSource = (*TokenClient)(nil)

type ClientOption func(*TokenClient)

// WithHTTPClient sets the transport used underneath the bearer wrapper.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *TokenClient) { c.hc = hc }
}

func NewTokenClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*TokenClient, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &TokenClient{base: u, timeout: timeout, hc: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *TokenClient) Token(ctx context.Context, credential, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrMissingSessionID
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base.JoinPath("sessions", sessionID, "token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client(ctx, credential).Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn().
			Str("module", "backend.token").
			Str("session_id", sessionID).
			Int("status", resp.StatusCode).
			Msg("token request rejected")
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", ErrEmptyToken
	}
	log.Debug().Str("module", "backend.token").Str("session_id", sessionID).Msg("token issued")
	return tr.Token, nil
}

// client wraps the base client so the credential travels as an Authorization bearer.
func (c *TokenClient) client(ctx context.Context, credential string) *http.Client {
	if credential == "" {
		return c.hc
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}))
}
