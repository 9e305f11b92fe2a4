package webchat

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cortexlabs/cortex"
)

func TestToEnvelopeProducesExternalNormalPriorityEnvelope(t *testing.T) {
	a := New(func(ctx context.Context, env cortex.Envelope) {}, nil)
	env, err := a.ToEnvelope(context.Background(), wireMessage{ConnID: "conn-1", Content: "hello"}, nil)
	if err != nil {
		t.Fatalf("ToEnvelope: %v", err)
	}
	if env.Priority != cortex.PriorityNormal || env.Sender.Relationship != cortex.RelationExternal {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Content != "hello" {
		t.Fatalf("expected content preserved, got %q", env.Content)
	}
}

func TestToEnvelopeRejectsWrongRawType(t *testing.T) {
	a := New(func(ctx context.Context, env cortex.Envelope) {}, nil)
	if _, err := a.ToEnvelope(context.Background(), "not a wireMessage", nil); err == nil {
		t.Fatal("expected an error for a non-wireMessage raw value")
	}
}

func TestSendToUnknownConnectionReturnsNotFound(t *testing.T) {
	a := New(func(ctx context.Context, env cortex.Envelope) {}, nil)
	err := a.Send(context.Background(), cortex.OutputTarget{Content: "hi", Reply: cortex.ReplyContext{AccountID: "missing"}})
	var notFound *cortex.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound for an unknown connection id, got %v", err)
	}
}

func TestUpgradeRoundTripDeliversEnvelopeAndReply(t *testing.T) {
	received := make(chan cortex.Envelope, 1)
	var a *Adapter
	a = New(func(ctx context.Context, env cortex.Envelope) {
		received <- env
		_ = sendReply(a, env)
	}, nil)

	r := chi.NewRouter()
	a.Mount(r)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/webchat"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(wireMessage{Content: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case env := <-received:
		if env.Content != "ping" {
			t.Fatalf("expected content 'ping', got %q", env.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onEnvelope was never invoked")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply wireMessage
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Content != "pong" {
		t.Fatalf("expected reply 'pong', got %q", reply.Content)
	}
}

// sendReply threads the connection id the adapter stamped onto env back
// through Send, exercising the same path Send uses against a.conns.
func sendReply(a *Adapter, env cortex.Envelope) error {
	return a.Send(context.Background(), cortex.OutputTarget{
		Content: "pong",
		Reply:   cortex.ReplyContext{AccountID: env.Reply.AccountID},
	})
}
