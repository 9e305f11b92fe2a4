package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/internal/config"
)

// openAICompatEmbeddingRequest/Response mirror the OpenAI /embeddings wire
// shape, the same lowest-common-denominator convention newModelFunc uses
// for /chat/completions.
type openAICompatEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAICompatEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// newEmbedder builds the cortex.Embedder this binary injects into
// memory_query: a plain HTTP POST against an OpenAI-compatible /embeddings
// endpoint, grounded on newModelFunc's request/response handling
// (provider.go) applied to the embeddings wire shape instead of chat
// completions.
func newEmbedder(cfg config.LLMConfig) cortex.Embedder {
	client := &http.Client{}
	return func(ctx context.Context, text string) ([]float32, error) {
		payload, err := json.Marshal(openAICompatEmbeddingRequest{Model: cfg.EmbeddingModel, Input: text})
		if err != nil {
			return nil, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("marshal embedding request: %v", err)}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("create embedding request: %v", err)}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, &cortex.ErrModel{Provider: cfg.Provider, Message: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, &cortex.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
		}

		var parsed openAICompatEmbeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("decode embedding response: %v", err)}
		}
		if len(parsed.Data) == 0 {
			return nil, &cortex.ErrModel{Provider: cfg.Provider, Message: "no embedding data in response"}
		}
		return parsed.Data[0].Embedding, nil
	}
}
