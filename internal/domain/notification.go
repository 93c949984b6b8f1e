package domain

import "time"

// Notification is the immutable reference to an externally-owned notification.
// The delivery core reads it to build adapter payloads and never writes it
// back; actor/recipient/visibility rules live with the owner.
type Notification struct {
	ID          string
	RecipientID string
	ActorID     string
	SubjectRef  string
	Kind        string
	SubKind     *string
	CreatedAt   time.Time
}

// Payload flattens the notification into the key/value form handed to
// transport adapters. Adapters must pass these fields through unchanged.
func (n *Notification) Payload() map[string]any {
	var subKind any
	if n.SubKind != nil {
		subKind = *n.SubKind
	}

	return map[string]any{
		"notificationId": n.ID,
		"actorId":        n.ActorID,
		"subjectRef":     n.SubjectRef,
		"kind":           n.Kind,
		"subKind":        subKind,
		"createdAt":      n.CreatedAt.UTC().Format(time.RFC3339),
	}
}
