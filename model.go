package cortex

import "context"

// ModelFunc is the single seam through which the Processing Loop and the
// Router executor call out to a language model. Callers inject a concrete
// ModelFunc (wrapping whatever SDK they like); the core never imports a
// provider SDK directly. There is no implicit identity preamble or hidden
// state threaded onto req — what the caller puts in req.Messages is
// exactly what reaches the backend.
type ModelFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

// Provider names a ModelFunc for logging and circuit-breaker bookkeeping.
type Provider struct {
	Name string
	Call ModelFunc
}
