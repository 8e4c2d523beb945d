package boachat

import "github.com/rs/zerolog"

type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger adapts a zerolog logger to Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return zerologLogger{l: l}
}

func (z zerologLogger) Debug(msg string, fields map[string]any) { z.l.Debug().Fields(fields).Msg(msg) }
func (z zerologLogger) Info(msg string, fields map[string]any)  { z.l.Info().Fields(fields).Msg(msg) }
func (z zerologLogger) Warn(msg string, fields map[string]any)  { z.l.Warn().Fields(fields).Msg(msg) }
func (z zerologLogger) Error(msg string, fields map[string]any) { z.l.Error().Fields(fields).Msg(msg) }
