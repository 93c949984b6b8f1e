package pushgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

// Message is the data-only frame sent to the push gateway. It deliberately
// has no notification/rendering section and no priority, expiry, or grouping
// hints: the transport encodes no semantics.
type Message struct {
	Token string            `json:"token"`
	Data  map[string]string `json:"data"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return fmt.Errorf("device token is required")
	}
	return nil
}

// Response stores gateway call metadata.
type Response struct {
	StatusCode int
	MessageID  string
}

type gatewayErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type gatewayAcceptedBody struct {
	MessageID string `json:"messageId"`
}

// Client is a thin HTTP client for the external push gateway.
type Client struct {
	client   *resty.Client
	endpoint string
}

func NewClient(endpoint, apiKey string) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(apiKey) != "" {
		client.SetAuthToken(apiKey)
	}

	return NewClientWithResty(endpoint, client)
}

func NewClientWithResty(endpoint string, client *resty.Client) (*Client, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &Client{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

// Send posts the message and returns the gateway outcome. Non-2xx responses
// come back as *GatewayError with the gateway's error code attached.
func (c *Client) Send(ctx context.Context, msg Message) (*Response, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("push gateway client is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push message: %w", err)
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(c.endpoint)
	if err != nil {
		return nil, &GatewayError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &GatewayError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := response.Body()

	if statusCode >= 200 && statusCode < 300 {
		var accepted gatewayAcceptedBody
		_ = json.Unmarshal(body, &accepted)
		return &Response{
			StatusCode: statusCode,
			MessageID:  strings.TrimSpace(accepted.MessageID),
		}, nil
	}

	var errBody gatewayErrorBody
	_ = json.Unmarshal(body, &errBody)

	code := strings.TrimSpace(strings.ToLower(errBody.Error.Code))
	message := strings.TrimSpace(errBody.Error.Message)
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", statusCode)
	}

	gatewayErr := &GatewayError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
	// Dead tokens are the only permanent gateway failure; everything else,
	// malformed responses included, stays eligible for retry.
	gatewayErr.Transient = !IsTokenError(gatewayErr)

	return nil, gatewayErr
}
