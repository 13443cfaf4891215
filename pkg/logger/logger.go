// Package logger defines the logging interface consumed by the SDK.
//
// Handlers are provided for log/slog and for zerolog. The SDK never logs
// through a concrete logger directly; everything goes through Logger so that
// applications can plug in whatever they already use.
package logger

// Logger accepts a message and alternating key/value pairs, slog-style.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
