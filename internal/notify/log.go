package notify

import (
	"context"
	"log/slog"
)

// LogSink writes every notification to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Dispatch(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("event", n.Event),
		slog.String("project_id", n.ProjectID),
		slog.String("recipient_id", n.RecipientID),
		slog.String("email", n.Email))
	return nil
}
