package pushgw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Gateway error codes that identify a dead device token. Everything else the
// gateway reports is treated as retryable.
const (
	CodeInvalidToken = "invalid_token"
	CodeUnregistered = "unregistered"
)

// GatewayError classifies push gateway failures as transient/permanent.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "push gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTokenError reports whether the gateway rejected the device token itself.
// Unregistered devices are expected, not erroneous; the caller gives up on
// the token instead of retrying.
func IsTokenError(err error) bool {
	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		return false
	}

	switch gatewayErr.Code {
	case CodeInvalidToken, CodeUnregistered:
		return true
	}
	return false
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return true
}
