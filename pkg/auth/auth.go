// Package auth provides bearer-token sources for the realtime database
// client.
//
// The client itself never signs users in or up; it consumes tokens through
// the TokenSource interface. Static wraps a fixed token, and
// NewRefreshingSource exchanges a long-lived refresh token for ID tokens via
// the secure-token endpoint, caching each ID token until shortly before it
// expires.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

// TokenSource yields bearer tokens for database requests. Implementations
// must be safe for concurrent use; a single source is typically shared by
// every open session.
type TokenSource interface {
	// Token returns a token to attach to the next request.
	Token(ctx context.Context) (string, error)

	// Refresh discards any cached token and obtains a fresh one. Sessions
	// call this when the server reports the current token revoked.
	Refresh(ctx context.Context) (string, error)
}

// Static returns a TokenSource serving a fixed token. Refresh fails with
// constants.ErrNoRefresh, so a session using a static token faults when the
// server revokes it.
func Static(token string) TokenSource {
	return staticSource{token: token}
}

type staticSource struct {
	token string
}

func (s staticSource) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s staticSource) Refresh(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: static token", constants.ErrNoRefresh)
}

// DefaultSecureTokenURL is the production token-exchange endpoint.
const DefaultSecureTokenURL = "https://securetoken.googleapis.com"

// refreshSkew is how long before expiry a cached token is considered stale.
const refreshSkew = 30 * time.Second

// RefreshingSource trades a refresh token for ID tokens on demand.
type RefreshingSource struct {
	endpoint     string
	apiKey       string
	refreshToken string
	httpClient   *http.Client

	mu      sync.Mutex
	idToken string
	expiry  time.Time
}

// RefreshingOption configures a RefreshingSource.
type RefreshingOption func(*RefreshingSource)

// WithEndpoint overrides the secure-token endpoint, e.g. to point at the
// auth emulator.
func WithEndpoint(endpoint string) RefreshingOption {
	return func(s *RefreshingSource) {
		s.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for token exchange.
func WithHTTPClient(c *http.Client) RefreshingOption {
	return func(s *RefreshingSource) {
		s.httpClient = c
	}
}

// NewRefreshingSource returns a TokenSource exchanging refreshToken for ID
// tokens with the given API key.
func NewRefreshingSource(apiKey, refreshToken string, opts ...RefreshingOption) *RefreshingSource {
	s := &RefreshingSource{
		endpoint:     DefaultSecureTokenURL,
		apiKey:       apiKey,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RefreshingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.idToken != "" && time.Now().Before(s.expiry.Add(-refreshSkew)) {
		tok := s.idToken
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// refreshResponse is the secure-token exchange response body.
type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

func (s *RefreshingSource) Refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.currentRefreshToken())

	endpoint := fmt.Sprintf("%s/v1/token?key=%s", s.endpoint, url.QueryEscape(s.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", constants.ErrAuthFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", constants.ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange returned %s", constants.ErrAuthFailure, resp.Status)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding token exchange response: %v", constants.ErrAuthFailure, err)
	}
	if body.IDToken == "" {
		return "", fmt.Errorf("%w: token exchange returned no id token", constants.ErrAuthFailure)
	}

	s.mu.Lock()
	s.idToken = body.IDToken
	s.expiry = tokenExpiry(body.IDToken, body.ExpiresIn)
	if body.RefreshToken != "" {
		s.refreshToken = body.RefreshToken
	}
	s.mu.Unlock()

	return body.IDToken, nil
}

func (s *RefreshingSource) currentRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// tokenExpiry reads the expiry from the ID token's exp claim when it parses
// as a JWT, falling back to the expires_in field. The token is not verified
// here; the database is the one that checks signatures.
func tokenExpiry(idToken, expiresIn string) time.Time {
	parser := jwt.NewParser()
	if tok, _, err := parser.ParseUnverified(idToken, jwt.MapClaims{}); err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return time.Now().Add(time.Duration(secs) * time.Second)
	}

	// No usable expiry; force a refresh on next use.
	return time.Now()
}
