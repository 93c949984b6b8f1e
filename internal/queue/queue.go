package queue

import "context"

// Queue names for the notification-created intake. Invalid events dead-letter
// into the DLQ for inspection.
const (
	NotificationCreatedQueue = "notification.created"
	NotificationCreatedDLQ   = "dlq.notification.created"
)

// Publisher publishes notification events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, ev NotificationEvent) error
	Close() error
}

// EventHandler handles a consumed notification event.
type EventHandler func(ctx context.Context, ev NotificationEvent) error

// Consumer consumes notification events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}
