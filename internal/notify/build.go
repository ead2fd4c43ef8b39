package notify

import (
	"log/slog"

	"pathfinder/internal/config"
)

// FromConfig assembles the configured sinks behind an async queue. It returns
// nil when nothing is configured to receive notifications.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Queue {
	if cfg == nil {
		cfg = config.Default()
	}
	var sinks Multi
	if cfg.Notifications.Log {
		sinks = append(sinks, LogSink{Logger: logger})
	}
	if hook := NewWebhook(cfg.Notifications.Webhooks, cfg.Notifications.RatePerSecond, cfg.Notifications.Burst); hook.Len() > 0 {
		sinks = append(sinks, hook)
	}
	if len(sinks) == 0 {
		return nil
	}
	return NewQueue(sinks, cfg.Notifications.QueueSize, logger)
}
