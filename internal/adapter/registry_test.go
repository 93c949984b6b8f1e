package adapter

import (
	"context"
	"errors"
	"testing"
)

type stubAdapter struct {
	name     string
	closed   bool
	closeErr error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Deliver(ctx context.Context, notificationID, recipientID string, payload map[string]any) Result {
	return Success()
}

func (s *stubAdapter) Ready(ctx context.Context) bool { return true }

func (s *stubAdapter) Close() error {
	s.closed = true
	return s.closeErr
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	first := &stubAdapter{name: "push"}
	registry.Register(first)
	registry.Register(&stubAdapter{name: "realtime"})

	got, ok := registry.Get("push")
	if !ok {
		t.Fatal("push adapter should be registered")
	}
	if got != first {
		t.Fatal("Get returned a different adapter")
	}

	if _, ok := registry.Get("smoke-signal"); ok {
		t.Fatal("unknown adapter name should not resolve")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "push" || names[1] != "realtime" {
		t.Fatalf("Names() = %v, want [push realtime]", names)
	}
}

func TestRegistryRegisterLastWriteWins(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	registry.Register(&stubAdapter{name: "push"})
	replacement := &stubAdapter{name: "push"}
	registry.Register(replacement)

	if registry.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", registry.Len())
	}

	got, _ := registry.Get("push")
	if got != replacement {
		t.Fatal("second registration should replace the first")
	}
}

func TestRegistryIgnoresNilAndUnnamed(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(nil)
	registry.Register(&stubAdapter{name: ""})

	if registry.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", registry.Len())
	}
}

func TestRegistryCloseClosesAllAdapters(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	broken := &stubAdapter{name: "push", closeErr: errors.New("socket stuck")}
	healthy := &stubAdapter{name: "realtime"}
	registry.Register(broken)
	registry.Register(healthy)

	if err := registry.Close(); err == nil {
		t.Fatal("Close() should surface an adapter close error")
	}

	if !broken.closed || !healthy.closed {
		t.Fatal("all adapters should be closed")
	}
	if registry.Len() != 0 {
		t.Fatalf("Len() after Close = %d, want 0", registry.Len())
	}
}
