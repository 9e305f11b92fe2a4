package cortex

import "testing"

func TestErrModelError(t *testing.T) {
	tests := []struct {
		provider string
		message  string
		want     string
	}{
		{"anthropic", "rate limited", "model anthropic: rate limited"},
		{"openai", "context length exceeded", "model openai: context length exceeded"},
	}
	for _, tt := range tests {
		e := &ErrModel{Provider: tt.provider, Message: tt.message}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrModel{%q, %q}.Error() = %q, want %q", tt.provider, tt.message, got, tt.want)
		}
	}
}

func TestErrModelImplementsError(t *testing.T) {
	var _ error = (*ErrModel)(nil)
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestErrHTTPImplementsError(t *testing.T) {
	var _ error = (*ErrHTTP)(nil)
}

func TestErrInvalidState(t *testing.T) {
	e := &ErrInvalidState{Entity: "bus entry", From: "completed", To: "pending"}
	want := "bus entry: invalid transition completed -> pending"
	if got := e.Error(); got != want {
		t.Errorf("ErrInvalidState.Error() = %q, want %q", got, want)
	}
}

func TestErrNotFound(t *testing.T) {
	e := &ErrNotFound{Entity: "pending op", ID: "abc123"}
	want := `pending op "abc123" not found`
	if got := e.Error(); got != want {
		t.Errorf("ErrNotFound.Error() = %q, want %q", got, want)
	}
}

func TestErrCircuitOpen(t *testing.T) {
	e := &ErrCircuitOpen{Tier: "opus"}
	want := "circuit open: executor unavailable for tier opus"
	if got := e.Error(); got != want {
		t.Errorf("ErrCircuitOpen.Error() = %q, want %q", got, want)
	}
}
