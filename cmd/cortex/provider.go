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

// openAICompatMessage and openAICompatRequest/Response mirror the OpenAI
// chat-completions wire shape, the lowest common denominator across
// OpenAI, OpenRouter, Groq, and self-hosted vLLM/Ollama endpoints.
type openAICompatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAICompatRequest struct {
	Model    string                `json:"model"`
	Messages []openAICompatMessage `json:"messages"`
}

type openAICompatResponse struct {
	Choices []struct {
		Message openAICompatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// newModelFunc builds the single concrete cortex.ModelFunc this binary
// injects into the Loop and Router: a plain HTTP POST against an
// OpenAI-compatible /chat/completions endpoint, grounded on
// provider/openaicompat.Provider.Chat. The core package never imports this
// file or any provider SDK (model.go); the translation from ChatRequest to
// a concrete wire body lives here, at the one place a backend is chosen.
func newModelFunc(cfg config.LLMConfig) cortex.ModelFunc {
	client := &http.Client{}
	return func(ctx context.Context, req cortex.ChatRequest) (cortex.ChatResponse, error) {
		messages := make([]openAICompatMessage, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = openAICompatMessage{Role: m.Role, Content: m.Content}
		}

		payload, err := json.Marshal(openAICompatRequest{Model: cfg.Model, Messages: messages})
		if err != nil {
			return cortex.ChatResponse{}, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("marshal request: %v", err)}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return cortex.ChatResponse{}, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("create request: %v", err)}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return cortex.ChatResponse{}, &cortex.ErrModel{Provider: cfg.Provider, Message: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return cortex.ChatResponse{}, &cortex.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
		}

		var parsed openAICompatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return cortex.ChatResponse{}, &cortex.ErrModel{Provider: cfg.Provider, Message: fmt.Sprintf("decode response: %v", err)}
		}
		if len(parsed.Choices) == 0 {
			return cortex.ChatResponse{}, &cortex.ErrModel{Provider: cfg.Provider, Message: "no choices in response"}
		}

		return cortex.ChatResponse{
			Content: parsed.Choices[0].Message.Content,
			Usage: cortex.Usage{
				InputTokens:  parsed.Usage.PromptTokens,
				OutputTokens: parsed.Usage.CompletionTokens,
			},
		}, nil
	}
}
