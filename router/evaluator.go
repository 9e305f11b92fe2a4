package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Evaluation is the Evaluator's verdict on one job's complexity.
type Evaluation struct {
	Weight    int    `json:"weight"`
	Reasoning string `json:"reasoning"`
}

// clampWeight rounds w into the valid [1, 10] range.
func clampWeight(w int) int {
	if w < 1 {
		return 1
	}
	if w > 10 {
		return 10
	}
	return w
}

// bareIntPattern finds a standalone 1-2 digit integer, the fallback parse
// when the evaluator's response is not well-formed JSON.
var bareIntPattern = regexp.MustCompile(`\b([0-9]|10)\b`)

// EvaluatorFunc calls out to a small model for a complexity judgment. The
// caller injects whatever backend it likes, the same seam as ModelFunc;
// Evaluator wraps it with a timeout and a permissive parse.
type EvaluatorFunc func(ctx context.Context, payloadText string) (string, error)

// Evaluator produces a {weight, reasoning} verdict for one job's payload,
// grounded on nevindra-oasis's parseExtractedFacts: try strict JSON first,
// fall back to scraping the one piece of structure the response is
// expected to contain, and never let a malformed or slow response block
// the pipeline.
type Evaluator struct {
	call           EvaluatorFunc
	timeout        time.Duration
	fallbackWeight int
}

// NewEvaluator builds an Evaluator. timeout <= 0 defaults to 10s
// (spec.md §5's "per-call timeout, e.g. 10 s"); fallbackWeight <= 0
// defaults to 5 (mid-range, routes to sonnet under the default tier
// ranges).
func NewEvaluator(call EvaluatorFunc, timeout time.Duration, fallbackWeight int) *Evaluator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if fallbackWeight <= 0 {
		fallbackWeight = 5
	}
	return &Evaluator{call: call, timeout: timeout, fallbackWeight: clampWeight(fallbackWeight)}
}

// Evaluate runs the injected evaluator call against payloadText, bounded
// by e.timeout. Any failure — timeout, call error, or unparseable
// response — degrades to {weight: fallbackWeight, reasoning: "evaluator
// failed, using fallback"} rather than blocking the job (spec.md §4.10).
func (e *Evaluator) Evaluate(ctx context.Context, payloadText string) Evaluation {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type callResult struct {
		text string
		err  error
	}
	done := make(chan callResult, 1)
	go func() {
		text, err := e.call(ctx, payloadText)
		done <- callResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return e.fallback()
	case res := <-done:
		if res.err != nil {
			return e.fallback()
		}
		return e.parse(res.text)
	}
}

func (e *Evaluator) fallback() Evaluation {
	return Evaluation{Weight: e.fallbackWeight, Reasoning: "evaluator failed, using fallback"}
}

func (e *Evaluator) parse(response string) Evaluation {
	content := strings.TrimSpace(response)

	var eval Evaluation
	if err := json.Unmarshal([]byte(content), &eval); err == nil && eval.Weight != 0 {
		eval.Weight = clampWeight(eval.Weight)
		return eval
	}

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &eval); err == nil && eval.Weight != 0 {
			eval.Weight = clampWeight(eval.Weight)
			return eval
		}
	}

	if m := bareIntPattern.FindString(content); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return Evaluation{Weight: clampWeight(n), Reasoning: "parsed bare integer from response"}
		}
	}

	return e.fallback()
}
