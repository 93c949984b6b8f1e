package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/service"
)

// DeliveryStore is the read path over outbox rows.
type DeliveryStore interface {
	GetStatus(ctx context.Context, notificationID string) ([]domain.OutboxEntry, error)
}

// WorkerControl exposes the background worker to the operational API.
type WorkerControl interface {
	Status() service.WorkerStatus
}

type DeliveryHandler struct {
	store  DeliveryStore
	worker WorkerControl
}

func NewDeliveryHandler(store DeliveryStore, worker WorkerControl) (*DeliveryHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if worker == nil {
		return nil, fmt.Errorf("worker control is required")
	}
	return &DeliveryHandler{store: store, worker: worker}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, store DeliveryStore, worker WorkerControl) error {
	h, err := NewDeliveryHandler(store, worker)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications/:id/deliveries", h.GetDeliveries)
	v1.Get("/worker", h.GetWorkerStatus)

	return nil
}

type deliveryResponse struct {
	Adapter       string     `json:"adapter"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"lastError,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type deliveriesResponse struct {
	NotificationID string             `json:"notificationId"`
	Deliveries     []deliveryResponse `json:"deliveries"`
}

type workerStatusResponse struct {
	Running    bool `json:"running"`
	Processing bool `json:"processing"`
}

// GetDeliveries lists the per-adapter delivery obligations for one
// notification. An id with no obligations is indistinguishable from an
// unknown id and reads as not found.
func (h *DeliveryHandler) GetDeliveries(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: notification id is required", domain.ErrValidation))
	}

	entries, err := h.store.GetStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if len(entries) == 0 {
		return toHTTPError(fmt.Errorf("%w: no deliveries for notification %q", domain.ErrNotFound, id))
	}

	return c.Status(fiber.StatusOK).JSON(deliveriesResponse{
		NotificationID: id,
		Deliveries:     toDeliveryResponses(entries),
	})
}

func (h *DeliveryHandler) GetWorkerStatus(c *fiber.Ctx) error {
	status := h.worker.Status()
	return c.Status(fiber.StatusOK).JSON(workerStatusResponse{
		Running:    status.Running,
		Processing: status.Processing,
	})
}

func toDeliveryResponses(entries []domain.OutboxEntry) []deliveryResponse {
	responses := make([]deliveryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toDeliveryResponse(&entries[i]))
	}
	return responses
}

func toDeliveryResponse(e *domain.OutboxEntry) deliveryResponse {
	resp := deliveryResponse{
		Adapter:   e.Adapter,
		Status:    e.Status.String(),
		Attempts:  e.Attempts,
		LastError: e.LastError,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}

	if e.Status == domain.StatusPending {
		next := e.NextAttemptAt
		resp.NextAttemptAt = &next
	}
	resp.DeliveredAt = e.DeliveredAt

	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
