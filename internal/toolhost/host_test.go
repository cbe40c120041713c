package toolhost

import (
	"context"
	"encoding/json"
	"testing"
)

func noopHandler(ctx context.Context, args json.RawMessage) (*Result, error) {
	return &Result{Content: "ok"}, nil
}

func TestRegisterRejectsBadLocalName(t *testing.T) {
	h := New(ExecConfig{})
	err := h.Register(Definition{Name: "Read-File", Handler: noopHandler})
	if err == nil {
		t.Fatal("expected error for local tool name with uppercase/hyphen")
	}
}

func TestRegisterRejectsBadRemoteName(t *testing.T) {
	h := New(ExecConfig{})
	err := h.Register(Definition{Name: "fs server_read", Origin: OriginRemote, Handler: noopHandler})
	if err == nil {
		t.Fatal("expected error for remote tool name containing a space")
	}
}

func TestRegisterAcceptsValidNames(t *testing.T) {
	h := New(ExecConfig{})
	if err := h.Register(Definition{Name: "read_file", Handler: noopHandler}); err != nil {
		t.Fatalf("unexpected error registering local tool: %v", err)
	}
	if err := h.Register(Definition{Name: "fs-1_read", Origin: OriginRemote, Handler: noopHandler}); err != nil {
		t.Fatalf("unexpected error registering remote tool: %v", err)
	}
}

func TestRegisterRejectsCollision(t *testing.T) {
	h := New(ExecConfig{})
	if err := h.Register(Definition{Name: "read_file", Handler: noopHandler}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	err := h.Register(Definition{Name: "read_file", Handler: noopHandler})
	if err == nil {
		t.Fatal("expected error registering a duplicate tool name")
	}

	if _, ok := h.Get("read_file"); !ok {
		t.Fatal("expected the first registration to survive a rejected duplicate")
	}
}

func TestUnregisterThenReregisterSucceeds(t *testing.T) {
	h := New(ExecConfig{})
	if err := h.Register(Definition{Name: "read_file", Handler: noopHandler}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Unregister("read_file")
	if err := h.Register(Definition{Name: "read_file", Handler: noopHandler}); err != nil {
		t.Fatalf("expected re-registration after Unregister to succeed: %v", err)
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	h := New(ExecConfig{})
	if err := h.Register(Definition{Name: "", Handler: noopHandler}); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}
