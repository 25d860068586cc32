package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow's printf-style logs into slog.
type slogLogger struct {
	log    *slog.Logger
	module string
}

// NewLogger returns a whatsmeow logger backed by l (slog.Default when nil).
func NewLogger(l *slog.Logger, module string) waLog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{log: l, module: module}
}

func (s *slogLogger) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...), "module", s.module)
}

// Debugf is very chatty (every frame); only formatted when debug is on.
func (s *slogLogger) Debugf(msg string, args ...interface{}) {
	if !s.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.log.Debug(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{log: s.log, module: s.module + "/" + module}
}
