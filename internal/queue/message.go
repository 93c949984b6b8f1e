package queue

import (
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/outbox-relay/internal/domain"
)

// NotificationEvent is the wire message emitted when a notification row is
// created. RecipientID is optional: when absent, the dispatcher loads it from
// the notifications read model.
type NotificationEvent struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

func (e NotificationEvent) Validate() error {
	if e.NotificationID == "" {
		return fmt.Errorf("%w: notification_id is required", domain.ErrValidation)
	}
	return nil
}

func (e NotificationEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent parses and validates an event from its wire form.
func UnmarshalEvent(body []byte) (NotificationEvent, error) {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return NotificationEvent{}, fmt.Errorf("%w: malformed event: %v", domain.ErrValidation, err)
	}
	if err := ev.Validate(); err != nil {
		return NotificationEvent{}, err
	}
	return ev, nil
}
