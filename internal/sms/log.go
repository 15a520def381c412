package sms

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of a gateway. Used in dev
// environments where no SMS credentials are configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.InfoContext(ctx, "sms (log sender)", "phone", phone, "message", message)
	return nil
}
