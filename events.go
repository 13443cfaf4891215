package firebasil

import (
	"github.com/k2bd/firebasil.go/pkg/path"
	"github.com/k2bd/firebasil.go/pkg/tree"
)

// EventKind says what a change event carries.
type EventKind int

const (
	// EventPut replaces the subtree at the event's path.
	EventPut EventKind = iota

	// EventPatch shallow-merges a mapping into the subtree at the event's
	// path.
	EventPatch

	// EventKeepAlive is the server's periodic liveness signal; it carries no
	// data and causes no tree change.
	EventKeepAlive

	// EventAuthRevoked is terminal: the credential was revoked and could not
	// be refreshed.
	EventAuthRevoked

	// EventCancel is terminal: the server revoked access to the path.
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventPut:
		return "put"
	case EventPatch:
		return "patch"
	case EventKeepAlive:
		return "keep-alive"
	case EventAuthRevoked:
		return "auth_revoked"
	case EventCancel:
		return "cancel"
	default:
		return "invalid"
	}
}

// Event is one change observed on a subscribed subtree. Events are
// delivered to a single consumer in exactly the order the server sent them.
type Event struct {
	// Kind of change.
	Kind EventKind

	// Path the change applies to, relative to the subscription root.
	Path path.Path

	// Data is the new value at Path for put events (nil means deleted), and
	// the merged mapping for patch events. It is nil for keep-alive and
	// terminal events.
	Data *tree.Value

	// Err is set on terminal events and wraps the cause
	// (constants.ErrAuthFailure, constants.ErrAccessRevoked).
	Err error
}
