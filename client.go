package firebasil

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/k2bd/firebasil.go/pkg/auth"
	"github.com/k2bd/firebasil.go/pkg/constants"
	"github.com/k2bd/firebasil.go/pkg/logger"
	"github.com/k2bd/firebasil.go/pkg/path"
)

// Rtdb is a client for one realtime database instance.
//
// The client itself is stateless apart from the listeners it has open; it is
// safe for concurrent use.
type Rtdb struct {
	baseURL *url.URL

	// httpClient serves one-shot CRUD calls and carries a timeout.
	// streamClient serves event-stream requests and must not: a streaming
	// response body stays open indefinitely.
	httpClient   *http.Client
	streamClient *http.Client

	tokens  auth.TokenSource
	logger  logger.Logger
	metrics *Metrics

	eventBuffer int
	idleTimeout time.Duration

	listeners *xsync.MapOf[string, *Listener]
}

// Option configures an Rtdb client.
type Option func(*Rtdb)

// WithHTTPClient replaces the HTTP client used for one-shot requests. The
// streaming client shares its transport but never its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(db *Rtdb) {
		db.httpClient = c
		db.streamClient = &http.Client{Transport: c.Transport}
	}
}

// WithTokenSource sets the credential source. Without one, requests are
// unauthenticated, which only works against databases with open rules or
// the emulator.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(db *Rtdb) {
		db.tokens = ts
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(db *Rtdb) {
		db.logger = l
	}
}

// WithMetrics attaches a Metrics collector; sessions record frame and
// reconnect counts on it.
func WithMetrics(m *Metrics) Option {
	return func(db *Rtdb) {
		db.metrics = m
	}
}

// WithEventBuffer sets the capacity of each session's event channel. When
// the buffer is full the session stops reading frames until the consumer
// drains; events are never dropped.
func WithEventBuffer(n int) Option {
	return func(db *Rtdb) {
		if n > 0 {
			db.eventBuffer = n
		}
	}
}

// WithIdleTimeout sets how long a session waits without any frame (data or
// keep-alive) before treating the connection as dead and resyncing. Zero
// disables the watchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(db *Rtdb) {
		db.idleTimeout = d
	}
}

// New creates a client for the database at the given endpoint, e.g.
// "https://my-project.firebaseio.com" or an emulator address.
func New(endpoint string, opts ...Option) (*Rtdb, error) {
	if endpoint == "" {
		return nil, constants.ErrNoBaseURL
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", constants.ErrNoBaseURL, endpoint)
	}

	db := &Rtdb{
		baseURL:      u,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
		logger:       logger.Nop(),
		eventBuffer:  64,
		listeners:    xsync.NewMapOf[string, *Listener](),
	}
	for _, opt := range opts {
		opt(db)
	}

	return db, nil
}

// Ref returns a reference to the node at the given path. "" and "/" address
// the root.
func (db *Rtdb) Ref(p string) (*Ref, error) {
	parsed, err := path.Parse(p)
	if err != nil {
		return nil, err
	}
	return &Ref{db: db, path: parsed}, nil
}

// Close tears down every listener opened through this client.
func (db *Rtdb) Close() {
	db.listeners.Range(func(id string, l *Listener) bool {
		_ = l.Close()
		return true
	})
}

// bearerToken fetches the current token, or "" when no source is set.
func (db *Rtdb) bearerToken(ctx context.Context) (string, error) {
	if db.tokens == nil {
		return "", nil
	}
	tok, err := db.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", constants.ErrAuthFailure, err)
	}
	return tok, nil
}

// nodeURL builds "{endpoint}/{path}.json?{params}".
func (db *Rtdb) nodeURL(p path.Path, params url.Values) string {
	u := *db.baseURL
	if p.IsRoot() {
		u.Path = strings.TrimRight(u.Path, "/") + "/.json"
	} else {
		u.Path = strings.TrimRight(u.Path, "/") + p.String() + ".json"
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}
