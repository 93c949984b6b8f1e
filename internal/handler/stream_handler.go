package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/realtime"
	"github.com/valyala/fasthttp"
)

// ConnectionHub is the realtime surface a client attaches to.
type ConnectionHub interface {
	Connect(recipientID string) (*realtime.Conn, func())
}

type StreamHandler struct {
	hub ConnectionHub
}

func NewStreamHandler(hub ConnectionHub) (*StreamHandler, error) {
	if hub == nil {
		return nil, fmt.Errorf("connection hub is required")
	}
	return &StreamHandler{hub: hub}, nil
}

func RegisterStreamRoutes(router fiber.Router, hub ConnectionHub) error {
	h, err := NewStreamHandler(hub)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/stream/:recipientId", h.Stream)

	return nil
}

// Stream attaches the caller to the realtime hub as a server-sent-event
// subscriber. The connection counts toward the recipient's presence, so the
// realtime adapter will route notifications here while it stays open.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	recipientID := strings.TrimSpace(c.Params("recipientId"))
	if recipientID == "" {
		return toHTTPError(fmt.Errorf("%w: recipient id is required", domain.ErrValidation))
	}

	conn, detach := h.hub.Connect(recipientID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer detach()

		for ev := range conn.Events() {
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.NotificationID, payload)
			if err := w.Flush(); err != nil {
				// client went away
				return
			}
		}
	}))

	return nil
}
