package logger

import (
	"github.com/rs/zerolog"
)

// ZerologHandler adapts a zerolog.Logger to the Logger interface.
type ZerologHandler struct {
	logger zerolog.Logger
}

// NewZerolog wraps a zerolog.Logger in a Logger.
func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	handler.logger.Error().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	handler.logger.Warn().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	handler.logger.Info().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	handler.logger.Debug().Fields(args).Msg(msg)
}
