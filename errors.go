package cortex

import "fmt"

// ErrModel wraps a failure surfaced by a ModelFunc call.
type ErrModel struct {
	Provider string
	Message  string
}

func (e *ErrModel) Error() string {
	return fmt.Sprintf("model %s: %s", e.Provider, e.Message)
}

// ErrHTTP wraps a non-2xx HTTP response observed by an adapter or tool.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrInvalidState reports a Bus or Router state-machine transition that
// violates the documented invariants (spec.md §4.1, §4.10).
type ErrInvalidState struct {
	Entity string
	From   string
	To     string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
}

// ErrNotFound reports a lookup miss against the Bus, session store,
// Hippocampus, or Router queue.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// ErrCircuitOpen is returned by the Router executor when its breaker is
// open and the call was short-circuited without attempting a model call.
type ErrCircuitOpen struct {
	Tier string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit open: executor unavailable for tier %s", e.Tier)
}
