package events

import (
	"context"
	"log/slog"
)

// LogSink writes every event to the structured log. Always on; the webhook
// sink is layered on top when configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, e Event) {
	s.log.InfoContext(ctx, "order event",
		"event", string(e.Type),
		"order_id", e.OrderID,
		"user_id", e.UserID,
		"service", e.Service,
		"status", e.Status,
		"price_minor", e.PriceMinor,
	)
}
