package cortex

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestParseOutputNoReply(t *testing.T) {
	trigger := ReplyContext{Channel: "webchat"}
	for _, reply := range []string{"NO_REPLY", "  NO_REPLY  ", "HEARTBEAT_OK"} {
		if got := ParseOutput(reply, trigger); got != nil {
			t.Errorf("ParseOutput(%q) = %v, want nil", reply, got)
		}
	}
}

func TestParseOutputDefaultsToTriggerChannel(t *testing.T) {
	trigger := ReplyContext{Channel: "webchat", ThreadID: "t1"}
	got := ParseOutput("hello there", trigger)
	want := []OutputTarget{{Channel: "webchat", Content: "hello there", Reply: trigger}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseOutput() = %+v, want %+v", got, want)
	}
}

func TestParseOutputStripsReplyToCurrentTag(t *testing.T) {
	trigger := ReplyContext{Channel: "cron"}
	got := ParseOutput("[[reply_to_current]]done", trigger)
	if len(got) != 1 || got[0].Content != "done" {
		t.Errorf("ParseOutput() = %+v, want single target with content %q", got, "done")
	}
}

func TestParseOutputSendToDirectives(t *testing.T) {
	trigger := ReplyContext{Channel: "cron"}
	got := ParseOutput("[[send_to:webchat]]hi there[[send_to:cron]]done", trigger)
	want := []OutputTarget{
		{Channel: "webchat", Content: "hi there", Reply: ReplyContext{Channel: "webchat"}},
		{Channel: "cron", Content: "done", Reply: trigger},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseOutput() = %+v, want %+v", got, want)
	}
}

func TestParseOutputSendToSameChannelKeepsTriggerReply(t *testing.T) {
	trigger := ReplyContext{Channel: "webchat", ThreadID: "t1", MessageID: "m1"}
	got := ParseOutput("[[send_to:webchat]]hi", trigger)
	if len(got) != 1 || got[0].Reply != trigger {
		t.Errorf("ParseOutput() reply = %+v, want trigger preserved %+v", got, trigger)
	}
}

type fakeAdapter struct {
	channel string
	sendErr error
	sent    []OutputTarget
}

func (a *fakeAdapter) ChannelID() string { return a.channel }
func (a *fakeAdapter) ToEnvelope(ctx context.Context, raw any, resolve SenderResolver) (Envelope, error) {
	return Envelope{}, nil
}
func (a *fakeAdapter) Send(ctx context.Context, target OutputTarget) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, target)
	return nil
}
func (a *fakeAdapter) IsAvailable() bool { return true }

func TestRouteDeliversToRegisteredAdapter(t *testing.T) {
	registry := NewAdapterRegistry()
	webchat := &fakeAdapter{channel: "webchat"}
	registry.Register(webchat)

	targets := []OutputTarget{{Channel: "webchat", Content: "hi"}}
	Route(context.Background(), targets, registry, nil, nil)

	if len(webchat.sent) != 1 || webchat.sent[0].Content != "hi" {
		t.Errorf("adapter received %+v, want one target with content %q", webchat.sent, "hi")
	}
}

func TestRouteMissingAdapterCallsOnErrorAndContinues(t *testing.T) {
	registry := NewAdapterRegistry()
	webchat := &fakeAdapter{channel: "webchat"}
	registry.Register(webchat)

	targets := []OutputTarget{
		{Channel: "telegram", Content: "unreachable"},
		{Channel: "webchat", Content: "delivered"},
	}
	var errs []OutputTarget
	Route(context.Background(), targets, registry, func(target OutputTarget, err error) {
		errs = append(errs, target)
	}, nil)

	if len(errs) != 1 || errs[0].Channel != "telegram" {
		t.Errorf("onError targets = %+v, want one entry for telegram", errs)
	}
	if len(webchat.sent) != 1 {
		t.Errorf("webchat.sent = %+v, want sibling target still delivered", webchat.sent)
	}
}

func TestRouteSendFailureCallsOnError(t *testing.T) {
	registry := NewAdapterRegistry()
	broken := &fakeAdapter{channel: "webchat", sendErr: errors.New("socket closed")}
	registry.Register(broken)

	var gotErr error
	Route(context.Background(), []OutputTarget{{Channel: "webchat"}}, registry, func(target OutputTarget, err error) {
		gotErr = err
	}, nil)

	if gotErr == nil {
		t.Fatal("onError was not called")
	}
}
