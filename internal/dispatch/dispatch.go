package dispatch

import (
	"log/slog"

	"github.com/example/carpool/internal/models"
)

// Notifier delivers ride and join-request lifecycle events to one user.
// Delivery is best-effort: a failed notification never fails the operation
// that produced the event.
type Notifier interface {
	Notify(userID string, ev models.Event) error
}

// LogNotifier is the fallback when no push transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(userID string, ev models.Event) error {
	l.Logger.Info("event", "user", userID, "type", ev.Type, "ride", ev.RideID, "request", ev.RequestID)
	return nil
}
