package adapter

import "context"

// Adapter is the uniform transport capability surface. A transport moves a
// notification to a recipient over one channel and reports the outcome as
// data; delivery mechanics must never change what the notification means.
type Adapter interface {
	// Name identifies the adapter in the registry and in outbox rows.
	Name() string

	// Deliver pushes the payload to the recipient. The payload and recipient
	// are passed through unchanged. All failure modes are expressed in the
	// returned Result, never as a panic past this boundary.
	Deliver(ctx context.Context, notificationID, recipientID string, payload map[string]any) Result

	// Ready is a cheap readiness probe. Transports with nothing to probe
	// report true.
	Ready(ctx context.Context) bool

	// Close releases held resources.
	Close() error
}

// Result is the transient outcome of a single delivery attempt. It is never
// persisted as-is; the outbox store records its fields.
type Result struct {
	OK        bool
	Error     string
	Retryable bool
}

func Success() Result {
	return Result{OK: true}
}

func Failure(message string, retryable bool) Result {
	return Result{Error: message, Retryable: retryable}
}
