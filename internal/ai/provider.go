// Package ai runs metered text generation against Cloudflare Workers AI.
package ai

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"medfinder/internal/models"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Method    models.GenerationMethod
	Model     string
	System    string
	Prompt    string
	Schema    json.RawMessage
	MaxTokens int
}

func (r Request) messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	return append(msgs, Message{Role: "user", Content: r.Prompt})
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the final state of one provider call.
type Completion struct {
	Text         string
	Provider     string
	Model        string
	FinishReason string
	Usage        Usage
	// Structured is set for structured calls whose output parsed as JSON.
	Structured json.RawMessage
	ParseError string
}

// Provider is an LLM backend. Stream calls onDelta for every text fragment
// in order and stops early if onDelta returns an error.
type Provider interface {
	Stream(ctx context.Context, req Request, onDelta func(string) error) (Completion, error)
	Structured(ctx context.Context, req Request) (Completion, error)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// normalizeUsage fills in counts the provider left at zero. Provider counts
// are not trusted to be present.
func normalizeUsage(u Usage, prompt, completion string) (Usage, bool) {
	estimated := false
	if u.PromptTokens <= 0 {
		u.PromptTokens = EstimateTokens(prompt)
		estimated = true
	}
	if u.CompletionTokens <= 0 {
		u.CompletionTokens = EstimateTokens(completion)
		estimated = true
	}
	if u.TotalTokens <= 0 || estimated {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, estimated
}
