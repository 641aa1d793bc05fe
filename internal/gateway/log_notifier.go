package gateway

import (
	"context"
	"log/slog"
	"time"
)

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
	Now    func() time.Time
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger.With("component", "notifier"), Now: time.Now}
}

func (n *LogNotifier) Send(ctx context.Context, email, subject, body string) (NotificationResult, error) {
	if err := ctx.Err(); err != nil {
		return NotificationResult{}, err
	}
	n.Logger.Info("notification", "to", email, "subject", subject, "body", body)
	return NotificationResult{Success: true, Timestamp: n.Now().UTC()}, nil
}
