package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

func signedToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": expiry.Unix(),
		"sub": "user-1",
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStatic(t *testing.T) {
	src := Static("fixed-token")

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", tok)

	_, err = src.Refresh(context.Background())
	assert.ErrorIs(t, err, constants.ErrNoRefresh)
}

func TestRefreshingSource(t *testing.T) {
	t.Run("exchanges the refresh token", func(t *testing.T) {
		idToken := signedToken(t, time.Now().Add(time.Hour))

		var mu sync.Mutex
		var seenRefreshTokens []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "/v1/token", r.URL.Path)
			assert.Equal(t, "api-key", r.URL.Query().Get("key"))
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

			mu.Lock()
			seenRefreshTokens = append(seenRefreshTokens, r.PostForm.Get("refresh_token"))
			mu.Unlock()

			fmt.Fprintf(w, `{"id_token": %q, "refresh_token": "refresh-2", "expires_in": "3600"}`, idToken)
		}))
		defer server.Close()

		src := NewRefreshingSource("api-key", "refresh-1", WithEndpoint(server.URL))

		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, idToken, tok)

		// Cached until expiry: no second exchange.
		tok, err = src.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, idToken, tok)

		// The rotated refresh token is used on explicit refresh.
		_, err = src.Refresh(context.Background())
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"refresh-1", "refresh-2"}, seenRefreshTokens)
	})

	t.Run("expired cached token triggers a new exchange", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			// Each token is already stale when handed out.
			idToken := signedToken(t, time.Now().Add(-time.Minute))
			fmt.Fprintf(w, `{"id_token": %q, "expires_in": "0", "n": %d}`, idToken, n)
		}))
		defer server.Close()

		src := NewRefreshingSource("api-key", "refresh-1", WithEndpoint(server.URL))

		_, err := src.Token(context.Background())
		require.NoError(t, err)
		_, err = src.Token(context.Background())
		require.NoError(t, err)

		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("server rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": "INVALID_REFRESH_TOKEN"}`, http.StatusBadRequest)
		}))
		defer server.Close()

		src := NewRefreshingSource("api-key", "bad", WithEndpoint(server.URL))

		_, err := src.Token(context.Background())
		assert.ErrorIs(t, err, constants.ErrAuthFailure)
	})

	t.Run("missing id token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer server.Close()

		src := NewRefreshingSource("api-key", "refresh-1", WithEndpoint(server.URL))

		_, err := src.Token(context.Background())
		assert.ErrorIs(t, err, constants.ErrAuthFailure)
	})
}

func TestTokenExpiry(t *testing.T) {
	t.Run("jwt exp claim wins", func(t *testing.T) {
		exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
		got := tokenExpiry(signedToken(t, exp), "3600")
		assert.WithinDuration(t, exp, got, time.Second)
	})

	t.Run("falls back to expires_in", func(t *testing.T) {
		got := tokenExpiry("not-a-jwt", "3600")
		assert.WithinDuration(t, time.Now().Add(time.Hour), got, 5*time.Second)
	})

	t.Run("no usable expiry means already stale", func(t *testing.T) {
		got := tokenExpiry("not-a-jwt", "")
		assert.WithinDuration(t, time.Now(), got, 5*time.Second)
	})
}
