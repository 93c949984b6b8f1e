package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an outbox entry.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further delivery attempts.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// OutboxEntry is one durable delivery obligation: a single notification bound
// to a single adapter. The (NotificationID, Adapter) pair is unique, which is
// what makes scheduling idempotent.
type OutboxEntry struct {
	ID             string
	NotificationID string
	Adapter        string
	Status         Status
	Attempts       int
	LastError      *string
	NextAttemptAt  time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e *OutboxEntry) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Adapter) == "" {
		return fmt.Errorf("%w: adapter name is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("%w: attempts must not be negative", ErrValidation)
	}
	return nil
}
