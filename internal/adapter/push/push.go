// Package push adapts the external push gateway to the transport adapter
// contract.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/pushgw"
	"go.uber.org/zap"
)

// AdapterName is the registry name of the push transport.
const AdapterName = "push"

// TokenStore resolves a recipient to a device token. Unregistered recipients
// return domain.ErrNotFound.
type TokenStore interface {
	TokenFor(ctx context.Context, recipientID string) (string, error)
}

// Gateway is the outbound surface of the push gateway client.
type Gateway interface {
	Send(ctx context.Context, msg pushgw.Message) (*pushgw.Response, error)
}

// Config gates push transport availability.
type Config struct {
	Disabled   bool
	GatewayURL string
	APIKey     string
}

// Adapter sends data-only push messages through the gateway. Gateway client
// construction is lazy and memoized: concurrent callers converge on a single
// initialization attempt and share its outcome.
type Adapter struct {
	cfg    Config
	tokens TokenStore
	logger *zap.Logger

	initOnce sync.Once
	gateway  Gateway
	ready    bool

	newGateway func(endpoint, apiKey string) (Gateway, error)
}

func New(cfg Config, tokens TokenStore, logger *zap.Logger) (*Adapter, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		newGateway: func(endpoint, apiKey string) (Gateway, error) {
			return pushgw.NewClient(endpoint, apiKey)
		},
	}, nil
}

func (a *Adapter) Name() string { return AdapterName }

// Ready reflects the memoized initialization outcome. A disabled transport or
// missing gateway credentials make the adapter permanently unready; neither
// is an error.
func (a *Adapter) Ready(ctx context.Context) bool {
	if a == nil {
		return false
	}
	a.initOnce.Do(a.init)
	return a.ready
}

func (a *Adapter) init() {
	if a.cfg.Disabled {
		a.logger.Info("push transport disabled by configuration")
		return
	}
	if strings.TrimSpace(a.cfg.GatewayURL) == "" || strings.TrimSpace(a.cfg.APIKey) == "" {
		a.logger.Info("push transport unavailable: gateway credentials are not configured")
		return
	}

	gateway, err := a.newGateway(a.cfg.GatewayURL, a.cfg.APIKey)
	if err != nil {
		a.logger.Warn("push gateway client construction failed", zap.Error(err))
		return
	}

	a.gateway = gateway
	a.ready = true
}

func (a *Adapter) Deliver(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
	if !a.Ready(ctx) {
		return adapter.Failure("push transport unavailable", true)
	}

	token, err := a.tokens.TokenFor(ctx, recipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return adapter.Failure("no device token", false)
		}
		return adapter.Failure(fmt.Sprintf("device token lookup failed: %v", err), true)
	}

	msg := pushgw.Message{
		Token: token,
		Data:  stringifyPayload(payload),
	}

	if _, err := a.gateway.Send(ctx, msg); err != nil {
		if pushgw.IsTokenError(err) {
			return adapter.Failure(err.Error(), false)
		}
		return adapter.Failure(err.Error(), true)
	}

	return adapter.Success()
}

func (a *Adapter) Close() error { return nil }

// stringifyPayload coerces every payload value to its string form. Nil values
// become empty strings so the wire frame stays a flat string map.
func stringifyPayload(payload map[string]any) map[string]string {
	data := make(map[string]string, len(payload))
	for key, value := range payload {
		if value == nil {
			data[key] = ""
			continue
		}
		if s, ok := value.(string); ok {
			data[key] = s
			continue
		}
		data[key] = fmt.Sprintf("%v", value)
	}
	return data
}
