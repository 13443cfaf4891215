package constants

import "errors"

// Errors
var (
	ErrInvalidPath       = errors.New("invalid database path")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrMalformedFrame    = errors.New("malformed event stream frame")
	ErrProtocolViolation = errors.New("event stream protocol violation")
	ErrAuthFailure       = errors.New("authentication failure")
	ErrConnection        = errors.New("connection error")
	ErrAccessRevoked     = errors.New("access to the path was revoked")
	ErrRequestFailed     = errors.New("realtime database request failed")
)
var (
	ErrNoBaseURL = errors.New("base url not set")
	ErrNoRefresh = errors.New("token source cannot refresh")
)
