// Package fakertdb provides a fake realtime database server for testing.
// It speaks the REST and event-stream protocol over plain HTTP.
//
// One-shot requests run against an in-memory JSON store. Streaming requests
// hand the test a StreamConn, which the test scripts frame by frame: the
// server pushes nothing on its own, so every test run sees exactly the
// sequence it wrote. Dropping a StreamConn simulates a lost connection and
// lets reconnection logic be exercised deterministically.
package fakertdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Server is a fake realtime database listening on a local port.
type Server struct {
	httpServer *httptest.Server

	mu         sync.Mutex
	store      any
	pushSeq    int
	lastAuth   string
	failStatus int
	failCount  int

	conns chan *StreamConn
}

// NewServer starts a fake database on a random local port.
func NewServer() *Server {
	s := &Server{
		conns: make(chan *StreamConn, 16),
	}

	router := mux.NewRouter()
	router.PathPrefix("/").HandlerFunc(s.handleNode)
	s.httpServer = httptest.NewServer(router)

	return s
}

// URL returns the endpoint to hand to the client under test.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.httpServer.Close()
}

// LastAuthorization returns the Authorization header of the most recent
// request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// FailNextStream makes the next streaming request fail with the given HTTP
// status instead of opening a stream.
func (s *Server) FailNextStream(status int) {
	s.FailStreams(status, 1)
}

// FailStreams makes the next n streaming requests fail with the given HTTP
// status.
func (s *Server) FailStreams(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failCount = n
}

func (s *Server) takeStreamFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCount == 0 {
		return 0
	}
	s.failCount--
	return s.failStatus
}

// NextConn waits for the next streaming connection to arrive.
func (s *Server) NextConn(ctx context.Context) (*StreamConn, error) {
	select {
	case conn := <-s.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetValue seeds the store at a path without going through HTTP.
func (s *Server) SetValue(nodePath string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = setAt(s.store, splitPath(nodePath), value)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	nodePath, ok := strings.CutSuffix(strings.Trim(r.URL.Path, "/"), ".json")
	if !ok {
		http.Error(w, `{"error":"expected a .json path"}`, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	s.lastAuth = r.Header.Get("Authorization")
	s.mu.Unlock()

	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.handleStream(w, r)
		return
	}

	s.handleREST(w, r, splitPath(nodePath))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if status := s.takeStreamFailure(); status != 0 {
		http.Error(w, `{"error":"injected failure"}`, status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &StreamConn{
		Path:    strings.TrimSuffix(strings.Trim(r.URL.Path, "/"), ".json"),
		Query:   r.URL.Query(),
		frames:  make(chan string),
		dropped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	select {
	case s.conns <- conn:
	case <-r.Context().Done():
		close(conn.done)
		return
	}

	// The ResponseWriter must only be touched from this goroutine, so the
	// scripted frames arrive over a channel and are written here. The
	// connection stays open until the test drops it or the client
	// disconnects.
	defer close(conn.done)
	for {
		select {
		case chunk := <-conn.frames:
			if _, err := fmt.Fprint(w, chunk); err != nil {
				return
			}
			flusher.Flush()
		case <-conn.dropped:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request, segs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		value, _ := getAt(s.store, segs)
		writeJSON(w, value)

	case http.MethodPut:
		var body any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
			return
		}
		s.store = setAt(s.store, segs, body)
		writeJSON(w, body)

	case http.MethodPatch:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
			return
		}
		for key, value := range body {
			s.store = setAt(s.store, append(append([]string{}, segs...), splitPath(key)...), value)
		}
		writeJSON(w, body)

	case http.MethodPost:
		var body any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
			return
		}
		s.pushSeq++
		key := fmt.Sprintf("push-%04d", s.pushSeq)
		s.store = setAt(s.store, append(append([]string{}, segs...), key), body)
		writeJSON(w, map[string]string{"name": key})

	case http.MethodDelete:
		s.store = setAt(s.store, segs, nil)
		writeJSON(w, nil)

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}

func splitPath(nodePath string) []string {
	trimmed := strings.Trim(nodePath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// getAt walks the store to a path.
func getAt(store any, segs []string) (any, bool) {
	cur := store
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setAt writes a value at a path, creating intermediate maps. A nil value
// deletes the node and prunes emptied maps.
func setAt(store any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}

	m, ok := store.(map[string]any)
	if !ok {
		if value == nil {
			return store
		}
		m = map[string]any{}
	}

	next := make(map[string]any, len(m))
	for k, v := range m {
		next[k] = v
	}

	child := setAt(next[segs[0]], segs[1:], value)
	if child == nil {
		delete(next, segs[0])
	} else {
		next[segs[0]] = child
	}
	if len(next) == 0 {
		return nil
	}
	return next
}

// StreamConn is one live event-stream connection. The test drives it: each
// method hands one frame to the handler goroutine, which owns the
// ResponseWriter, and Drop severs the connection.
type StreamConn struct {
	// Path and Query are what the client requested, for assertions.
	Path  string
	Query map[string][]string

	frames  chan string
	dropped chan struct{}
	done    chan struct{}

	dropOnce sync.Once
}

// send hands a raw chunk to the handler goroutine. It fails once the
// connection has ended for any reason.
func (c *StreamConn) send(chunk string) error {
	select {
	case c.frames <- chunk:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *StreamConn) writeFrame(event, data string) error {
	return c.send(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// Put sends a put frame replacing the subtree at path with data.
func (c *StreamConn) Put(path string, data any) error {
	return c.writeDelta("put", path, data)
}

// Patch sends a patch frame merging data into the subtree at path.
func (c *StreamConn) Patch(path string, data map[string]any) error {
	return c.writeDelta("patch", path, data)
}

func (c *StreamConn) writeDelta(event, path string, data any) error {
	envelope, err := json.Marshal(map[string]any{"path": path, "data": data})
	if err != nil {
		return err
	}
	return c.writeFrame(event, string(envelope))
}

// KeepAlive sends a keep-alive frame.
func (c *StreamConn) KeepAlive() error {
	return c.writeFrame("keep-alive", "null")
}

// AuthRevoked sends an auth_revoked frame.
func (c *StreamConn) AuthRevoked() error {
	return c.writeFrame("auth_revoked", `"credential is no longer valid"`)
}

// Cancel sends a cancel frame.
func (c *StreamConn) Cancel() error {
	return c.writeFrame("cancel", "null")
}

// Raw writes arbitrary bytes to the stream, for malformed-input tests.
func (c *StreamConn) Raw(chunk string) error {
	return c.send(chunk)
}

// Drop severs the connection, simulating a network failure. The client sees
// EOF on its next read. Drop is idempotent.
func (c *StreamConn) Drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}
