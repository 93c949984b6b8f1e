// Package realtime adapts the in-process connection hub to the transport
// adapter contract.
package realtime

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/realtime"
)

// AdapterName is the registry name of the realtime transport.
const AdapterName = "realtime"

// Hub is the connection-presence surface the adapter depends on.
type Hub interface {
	IsConnected(recipientID string) bool
	Publish(recipientID string, ev realtime.Event) error
}

// Adapter delivers notifications over live connections. A recipient without
// an open connection is not an error: the durable pull path owned by the
// read API covers offline recipients, so the attempt is terminal here.
type Adapter struct {
	hub Hub
}

func New(hub Hub) (*Adapter, error) {
	if hub == nil {
		return nil, fmt.Errorf("connection hub is required")
	}
	return &Adapter{hub: hub}, nil
}

func (a *Adapter) Name() string { return AdapterName }

func (a *Adapter) Ready(ctx context.Context) bool {
	return a != nil && a.hub != nil
}

func (a *Adapter) Deliver(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
	if a == nil || a.hub == nil {
		return adapter.Failure("realtime transport is not initialized", true)
	}
	if err := ctx.Err(); err != nil {
		return adapter.Failure(err.Error(), true)
	}

	if !a.hub.IsConnected(recipientID) {
		return adapter.Failure("not connected", false)
	}

	ev := realtime.Event{
		NotificationID: notificationID,
		Payload:        payload,
	}
	if err := a.hub.Publish(recipientID, ev); err != nil {
		// Sockets can vanish between the presence probe and the send;
		// that race is transient.
		return adapter.Failure(err.Error(), true)
	}

	return adapter.Success()
}

func (a *Adapter) Close() error { return nil }
