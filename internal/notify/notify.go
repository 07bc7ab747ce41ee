// Package notify is the fan-out boundary for in-app/user notifications
// raised after automation executions and due reminders.
package notify

import (
	"context"

	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// Broadcast targets all users instead of a single recipient.
const Broadcast = "broadcast"

// Payload is an opaque notification body.
type Payload map[string]interface{}

// Notifier fans a notification out to a user (or Broadcast). Delivery of
// notifications is best-effort; failures are logged, never propagated into
// sweeps.
type Notifier interface {
	Notify(ctx context.Context, userID string, payload Payload) error
}

// LogNotifier writes notifications to the structured log. It is the default
// when no in-app notification backend is wired.
type LogNotifier struct{}

// Notify logs the notification.
func (LogNotifier) Notify(_ context.Context, userID string, payload Payload) error {
	logger.Info("notification", "user_id", userID, "event", payload["event"])
	return nil
}
