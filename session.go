package firebasil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"github.com/oklog/ulid/v2"

	"github.com/k2bd/firebasil.go/pkg/constants"
	"github.com/k2bd/firebasil.go/pkg/path"
	"github.com/k2bd/firebasil.go/pkg/sse"
	"github.com/k2bd/firebasil.go/pkg/tree"
)

// SessionState is the lifecycle state of a replica session.
type SessionState int32

const (
	// StateConnecting means the stream is being opened and no full value has
	// arrived yet.
	StateConnecting SessionState = iota

	// StateSynced means the replica holds the server's value for the
	// subscribed subtree.
	StateSynced

	// StateResyncing means the connection was lost or invalidated; the last
	// known replica is served as possibly stale until the next full value
	// arrives.
	StateResyncing

	// StateClosed means the caller closed the session.
	StateClosed

	// StateFaulted means the session hit an unrecoverable protocol, auth or
	// connection error; Err reports the cause.
	StateFaulted
)

func (state SessionState) String() string {
	switch state {
	case StateConnecting:
		return "Connecting"
	case StateSynced:
		return "Synced"
	case StateResyncing:
		return "Resyncing"
	case StateClosed:
		return "Closed"
	case StateFaulted:
		return "Faulted"
	default:
		return "InvalidState"
	}
}

func (state SessionState) validateTransitionTo(newState SessionState) error {
	switch state {
	case StateConnecting:
		switch newState {
		case StateSynced, StateResyncing, StateClosed, StateFaulted:
			return nil
		}
	case StateSynced:
		switch newState {
		case StateResyncing, StateClosed, StateFaulted:
			return nil
		}
	case StateResyncing:
		// Resyncing to Resyncing happens when a reopened connection drops
		// again before delivering a full value.
		switch newState {
		case StateSynced, StateResyncing, StateClosed, StateFaulted:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", state, newState)
}

// treeSnapshot is the immutable replica value swapped atomically by the
// session goroutine and read by any number of Snapshot callers.
type treeSnapshot struct {
	value *tree.Value
}

// Session is one live replica of a subscribed subtree: a single long-lived
// event-stream connection whose put and patch deltas are applied to an
// in-memory tree and republished as Events to one consumer.
//
// A Session recovers from a dropped connection by reopening the stream once,
// keeping the stale replica until the server resends the full value. If the
// reopen itself fails it faults; wrap the subscription in Listen for
// supervised retries with backoff.
type Session struct {
	id  string
	db  *Rtdb
	ref *Ref

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	snap atomic.Pointer[treeSnapshot]

	stateMu sync.Mutex
	state   SessionState
	err     error
}

// Subscribe opens a replica session on the Ref's path and query. The
// initial connection is made synchronously, so a misconfigured endpoint or
// rejected credential fails here rather than asynchronously; everything
// after that surfaces through Events, State and Err.
func (db *Rtdb) Subscribe(ctx context.Context, ref *Ref) (*Session, error) {
	if err := ref.query.Validate(); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     ulid.Make().String(),
		db:     db,
		ref:    ref,
		events: make(chan Event, db.eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	s.snap.Store(&treeSnapshot{})

	resp, err := s.open(sctx)
	if err != nil {
		cancel()
		return nil, err
	}

	db.metrics.sessionOpened()
	s.logf("session opened", "path", ref.path.String())
	go s.run(sctx, resp)

	return s, nil
}

// ID is an opaque identifier for this session, used in logs.
func (s *Session) ID() string {
	return s.id
}

// Events returns the change event sequence. It is closed when the session
// ends for any reason; after that Err reports what happened. Events must be
// drained by a single consumer; when the buffer fills, frame processing
// pauses rather than dropping anything.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Err returns the terminal error of a faulted session, nil otherwise.
func (s *Session) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.err
}

// Snapshot returns the current replica of the subscribed subtree and
// whether it is possibly stale (any state other than Synced). It never
// blocks on the network, and the returned value is immutable.
func (s *Session) Snapshot() (*tree.Value, bool) {
	value := s.snap.Load().value
	return value, s.State() != StateSynced
}

// Done is closed once the session's goroutine has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close cancels the session: the connection is aborted, the run loop
// drains out, and Events is closed. No event is enqueued after Close
// returns. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Session) logf(msg string, args ...any) {
	s.db.logger.Debug(msg, append([]any{"session", s.id}, args...)...)
}

func (s *Session) transition(newState SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == newState || s.state == StateClosed || s.state == StateFaulted {
		return
	}
	if err := s.state.validateTransitionTo(newState); err != nil {
		s.db.logger.Error("BUG: session state transition rejected", "session", s.id, "error", err)
		return
	}
	s.db.logger.Debug("session state transitioned", "session", s.id, "from", s.state.String(), "to", newState.String())
	s.state = newState
}

// fault moves the session to Faulted and records the cause. The first
// fault wins.
func (s *Session) fault(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == StateFaulted || s.state == StateClosed {
		return
	}
	if verr := s.state.validateTransitionTo(StateFaulted); verr != nil {
		s.db.logger.Error("BUG: session state transition rejected", "session", s.id, "error", verr)
		return
	}
	s.state = StateFaulted
	s.err = err
	s.db.logger.Warn("session faulted", "session", s.id, "error", err)
}

// open issues the streaming request for the session's path and query.
func (s *Session) open(ctx context.Context) (*http.Response, error) {
	params, err := s.ref.query.WireParams()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.db.nodeURL(s.ref.path, params), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrConnection, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	token, err := s.db.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.db.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: opening stream to %s: %v", constants.ErrConnection, s.ref.path, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream rejected with %s", constants.ErrAuthFailure, resp.Status)
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream rejected with %s", constants.ErrAccessRevoked, resp.Status)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream rejected with %s", constants.ErrConnection, resp.Status)
	}
}

// run drives the session until closed or faulted. It owns the events
// channel: nothing else sends on it, and it is closed exactly once here.
func (s *Session) run(ctx context.Context, resp *http.Response) {
	defer close(s.done)
	defer close(s.events)
	defer s.db.metrics.sessionClosed()

	for {
		retry := s.consume(ctx, resp)
		if !retry {
			if ctx.Err() != nil {
				s.transition(StateClosed)
			}
			return
		}

		// The connection was lost or invalidated. Keep the replica, reopen
		// the stream once, and wait for the server to resend the full value.
		s.db.metrics.reconnect()
		s.transition(StateResyncing)
		s.logf("session resyncing")

		var err error
		resp, err = s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.transition(StateClosed)
				return
			}
			s.fault(fmt.Errorf("reopening stream: %w", err))
			return
		}
	}
}

// consume reads frames from one connection until it ends. It reports
// whether the session should reopen the connection and keep going.
func (s *Session) consume(ctx context.Context, resp *http.Response) bool {
	defer resp.Body.Close()

	var watchdog *time.Timer
	if s.db.idleTimeout > 0 {
		// Closing the body forces the blocked read below to fail, which is
		// then handled as a connection loss.
		watchdog = time.AfterFunc(s.db.idleTimeout, func() { resp.Body.Close() })
		defer watchdog.Stop()
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, constants.ErrMalformedFrame) {
				s.fault(err)
				return false
			}
			// EOF or transport error: resync.
			return true
		}

		if watchdog != nil {
			watchdog.Reset(s.db.idleTimeout)
		}
		s.db.metrics.frame(frame.Event)

		switch frame.Event {
		case "put":
			if err := s.handlePut(ctx, frame); err != nil {
				s.fault(err)
				return false
			}
		case "patch":
			if err := s.handlePatch(ctx, frame); err != nil {
				s.fault(err)
				return false
			}
		case "keep-alive":
			// Liveness only, no tree change.
			s.publish(ctx, Event{Kind: EventKeepAlive, Path: path.Root})
		case "auth_revoked":
			if s.refreshToken(ctx) {
				return true
			}
			return false
		case "cancel":
			err := fmt.Errorf("%w: server cancelled the stream", constants.ErrAccessRevoked)
			s.publish(ctx, Event{Kind: EventCancel, Path: path.Root, Err: err})
			s.fault(err)
			return false
		default:
			s.fault(fmt.Errorf("%w: unknown event %q", constants.ErrProtocolViolation, frame.Event))
			return false
		}

		if ctx.Err() != nil {
			return false
		}
	}
}

// refreshToken handles an auth_revoked frame. It reports whether a fresh
// token was obtained and the stream should reopen.
func (s *Session) refreshToken(ctx context.Context) bool {
	s.logf("session token revoked, refreshing")

	var err error
	if s.db.tokens == nil {
		err = fmt.Errorf("%w: token revoked and no token source configured", constants.ErrAuthFailure)
	} else if _, rerr := s.db.tokens.Refresh(ctx); rerr != nil {
		err = fmt.Errorf("%w: %v", constants.ErrAuthFailure, rerr)
	}

	if err == nil {
		return true
	}

	s.publish(ctx, Event{Kind: EventAuthRevoked, Path: path.Root, Err: err})
	s.fault(err)
	return false
}

func (s *Session) handlePut(ctx context.Context, frame *sse.Frame) error {
	rel, data, err := decodePutDelta(frame)
	if err != nil {
		return err
	}

	if s.State() != StateSynced && !rel.IsRoot() {
		return fmt.Errorf("%w: put at %s before initial sync", constants.ErrProtocolViolation, rel)
	}

	cur := s.snap.Load()
	next := tree.ApplyPut(cur.value, rel, data)
	s.snap.Store(&treeSnapshot{value: next})

	if rel.IsRoot() {
		// The full-value put is what completes an initial sync or a resync.
		s.transition(StateSynced)
	}

	s.publish(ctx, Event{Kind: EventPut, Path: rel, Data: data})
	return nil
}

func (s *Session) handlePatch(ctx context.Context, frame *sse.Frame) error {
	if s.State() != StateSynced {
		return fmt.Errorf("%w: patch received before initial sync", constants.ErrProtocolViolation)
	}

	rel, raw, dataType, err := decodeDeltaEnvelope(frame)
	if err != nil {
		return err
	}
	if dataType != jsonparser.Object {
		return fmt.Errorf("%w: patch data is not a mapping", constants.ErrProtocolViolation)
	}
	patch, err := tree.DecodePatch(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", constants.ErrProtocolViolation, err)
	}

	cur := s.snap.Load()
	next, err := tree.ApplyPatch(cur.value, rel, patch)
	if err != nil {
		return fmt.Errorf("%w: %v", constants.ErrProtocolViolation, err)
	}
	s.snap.Store(&treeSnapshot{value: next})

	s.publish(ctx, Event{Kind: EventPatch, Path: rel, Data: patch})
	return nil
}

// publish delivers an event in order, blocking until the consumer has room.
// It gives up only when the session context is cancelled, so no event can
// be enqueued after Close returns.
func (s *Session) publish(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeDeltaEnvelope splits a put/patch payload {"path": ..., "data": ...}
// into the relative path and the data member. A missing member or an
// unparseable path is a protocol violation. jsonparser hands string values
// back without their quotes, so the value type is returned alongside the
// raw bytes.
func decodeDeltaEnvelope(frame *sse.Frame) (path.Path, []byte, jsonparser.ValueType, error) {
	if frame.Data == nil {
		return path.Path{}, nil, jsonparser.NotExist,
			fmt.Errorf("%w: %s frame carries no data", constants.ErrProtocolViolation, frame.Event)
	}

	pathStr, err := jsonparser.GetString(frame.Data, "path")
	if err != nil {
		return path.Path{}, nil, jsonparser.NotExist,
			fmt.Errorf("%w: %s frame has no path: %v", constants.ErrProtocolViolation, frame.Event, err)
	}
	rel, err := path.Parse(pathStr)
	if err != nil {
		return path.Path{}, nil, jsonparser.NotExist,
			fmt.Errorf("%w: %s frame path: %v", constants.ErrProtocolViolation, frame.Event, err)
	}

	raw, dataType, _, err := jsonparser.Get(frame.Data, "data")
	if err != nil && dataType != jsonparser.Null {
		return path.Path{}, nil, jsonparser.NotExist,
			fmt.Errorf("%w: %s frame has no data member: %v", constants.ErrProtocolViolation, frame.Event, err)
	}
	return rel, raw, dataType, nil
}

// decodePutDelta decodes a put payload into its target path and tree value
// (nil for a deletion).
func decodePutDelta(frame *sse.Frame) (path.Path, *tree.Value, error) {
	rel, raw, dataType, err := decodeDeltaEnvelope(frame)
	if err != nil {
		return path.Path{}, nil, err
	}

	switch dataType {
	case jsonparser.Null:
		return rel, nil, nil
	case jsonparser.String:
		str, err := jsonparser.ParseString(raw)
		if err != nil {
			return path.Path{}, nil, fmt.Errorf("%w: put data: %v", constants.ErrProtocolViolation, err)
		}
		return rel, tree.Str(str), nil
	default:
		value, err := tree.Decode(raw)
		if err != nil {
			return path.Path{}, nil, fmt.Errorf("%w: put data: %v", constants.ErrProtocolViolation, err)
		}
		return rel, value, nil
	}
}
