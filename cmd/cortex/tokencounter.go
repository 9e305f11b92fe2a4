package main

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cortexlabs/cortex/contextassembler"
)

// tiktokenCounter implements contextassembler.TokenCounter against a real
// BPE encoding instead of the package's default ⌈len/4⌉ heuristic —
// SPEC_FULL.md §1.2 names tiktoken-go as an injectable swap-in for exactly
// this seam.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// newTokenCounter loads the cl100k_base encoding (used by gpt-4/gpt-3.5 and
// close enough for other providers' budgeting purposes). On load failure
// it falls back to nil, and assemblerOptions (wiring.go) skips the option entirely
// so the Assembler keeps its built-in char-heuristic counter.
func newTokenCounter(logger *slog.Logger) contextassembler.TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("cortex: tiktoken encoding unavailable, falling back to char heuristic", "error", err)
		return nil
	}
	return &tiktokenCounter{enc: enc}
}

func (c *tiktokenCounter) Estimate(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
