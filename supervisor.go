package firebasil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/k2bd/firebasil.go/pkg/constants"
	"github.com/k2bd/firebasil.go/pkg/tree"
)

// Listener is a supervised subscription: it runs replica sessions on a Ref
// and, when a session faults on a recoverable error, opens a brand-new
// session after a backoff delay. The last known replica is carried across
// sessions and served as stale until the replacement syncs.
//
// Auth failures, revoked access and exhausted retries end the Listener;
// Err reports the cause after Events closes.
type Listener struct {
	id      string
	db      *Rtdb
	ref     *Ref
	retryer Retryer

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	snap    atomic.Pointer[treeSnapshot]
	session atomic.Pointer[Session]

	errMu sync.Mutex
	err   error
}

// ListenOption configures a Listener.
type ListenOption func(*Listener)

// WithRetryer sets the retry strategy used between sessions. The default is
// NewExponentialBackoffRetryer.
func WithRetryer(r Retryer) ListenOption {
	return func(l *Listener) {
		l.retryer = r
	}
}

// Listen opens a supervised subscription on the Ref's path and query. The
// first session is opened synchronously, so a bad query, endpoint or
// credential fails here; later failures are retried or reported through
// Events and Err.
func (db *Rtdb) Listen(ctx context.Context, ref *Ref, opts ...ListenOption) (*Listener, error) {
	lctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		id:      ulid.Make().String(),
		db:      db,
		ref:     ref,
		retryer: NewExponentialBackoffRetryer(),
		events:  make(chan Event, db.eventBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.snap.Store(&treeSnapshot{})

	sess, err := db.Subscribe(lctx, ref)
	if err != nil {
		cancel()
		return nil, err
	}

	db.listeners.Store(l.id, l)
	go l.run(lctx, sess)

	return l, nil
}

// ID is an opaque identifier for this listener, used in logs.
func (l *Listener) ID() string {
	return l.id
}

// Events returns the change event sequence, spanning every session the
// Listener runs. It is closed when the Listener ends; Err then reports why.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Err returns the terminal error of an ended Listener, nil when it was
// closed deliberately or is still running.
func (l *Listener) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Snapshot returns the last known replica and whether it is possibly stale.
// The replica survives session turnover: between a fault and the next sync
// it is the previous session's last value, flagged stale.
func (l *Listener) Snapshot() (*tree.Value, bool) {
	value := l.snap.Load().value
	sess := l.session.Load()
	return value, sess == nil || sess.State() != StateSynced
}

// Done is closed once the Listener has fully stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close stops the Listener and its current session. No event is delivered
// after Close returns. Close is idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}

func (l *Listener) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// retryable reports whether a session's terminal error warrants a fresh
// session. Connection losses and corrupt streams do; rejected credentials
// and revoked access do not.
func retryable(err error) bool {
	return errors.Is(err, constants.ErrConnection) ||
		errors.Is(err, constants.ErrMalformedFrame) ||
		errors.Is(err, constants.ErrProtocolViolation)
}

// run supervises sessions until the context is cancelled, an unrecoverable
// error occurs, or the retry budget runs out. It owns the events channel.
func (l *Listener) run(ctx context.Context, sess *Session) {
	defer close(l.done)
	defer close(l.events)
	defer l.db.listeners.Delete(l.id)

	attempt := 0
	for {
		l.session.Store(sess)
		l.forward(ctx, sess, &attempt)

		err := sess.Err()
		if ctx.Err() != nil || err == nil {
			return
		}
		if !retryable(err) {
			l.setErr(err)
			return
		}

		next, ok := l.resubscribe(ctx, err, &attempt)
		if !ok {
			return
		}
		sess = next
	}
}

// forward relays one session's events, keeping the Listener's replica
// current. Receiving an event guarantees the session's snapshot already
// reflects it, so the copy here can never go backwards.
func (l *Listener) forward(ctx context.Context, sess *Session, attempt *int) {
	for ev := range sess.Events() {
		value, _ := sess.Snapshot()
		l.snap.Store(&treeSnapshot{value: value})

		if sess.State() == StateSynced && *attempt != 0 {
			l.db.logger.Info("listener recovered", "listener", l.id, "attempts", *attempt)
			*attempt = 0
			l.retryer.Reset()
		}

		select {
		case l.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// resubscribe opens a replacement session after a backoff delay, retrying
// subscription failures under the same budget.
func (l *Listener) resubscribe(ctx context.Context, lastErr error, attempt *int) (*Session, bool) {
	for {
		delay, retry := l.retryer.NextDelay(*attempt, lastErr)
		if !retry {
			l.setErr(fmt.Errorf("retries exhausted: %w", lastErr))
			return nil, false
		}
		*attempt++

		l.db.logger.Warn("listener resubscribing",
			"listener", l.id, "attempt", *attempt, "delay", delay, "error", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false
		}

		sess, err := l.db.Subscribe(ctx, l.ref)
		if err == nil {
			return sess, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if !retryable(err) {
			l.setErr(err)
			return nil, false
		}
		lastErr = err
	}
}
