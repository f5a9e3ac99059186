package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medfinder/internal/config"
	"medfinder/internal/models"
	console "medfinder/internal/utils/logger"
)

var log = console.New("AI")

const (
	workersAIBaseURL = "https://api.cloudflare.com/client/v4"
	gatewayBaseURL   = "https://gateway.ai.cloudflare.com/v1"

	providerWorkersAI = "workers-ai"
	providerGateway   = "ai-gateway"
)

// ErrNotConfigured is returned when no Cloudflare credentials are set.
var ErrNotConfigured = errors.New("ai provider not configured")

// Cloudflare is the Workers AI client. It holds no per-request state and is
// built once at startup.
type Cloudflare struct {
	accountID       string
	apiToken        string
	gatewayID       string
	defaultModel    string
	structuredModel string
	workersURL      string
	gatewayURL      string
	httpClient      *http.Client
}

// Option overrides a client default.
type Option func(*Cloudflare)

// WithBaseURLs points the client at different endpoints, for tests.
func WithBaseURLs(workers, gateway string) Option {
	return func(c *Cloudflare) {
		c.workersURL = strings.TrimRight(workers, "/")
		c.gatewayURL = strings.TrimRight(gateway, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cloudflare) { c.httpClient = hc }
}

func NewCloudflare(cfg config.AIConfig, opts ...Option) *Cloudflare {
	c := &Cloudflare{
		accountID:       cfg.AccountID,
		apiToken:        cfg.APIToken,
		gatewayID:       cfg.GatewayID,
		defaultModel:    cfg.DefaultModel,
		structuredModel: cfg.StructuredModel,
		workersURL:      workersAIBaseURL,
		gatewayURL:      gatewayBaseURL,
		httpClient:      &http.Client{Timeout: cfg.RequestTimeout},
	}
	if c.structuredModel == "" {
		c.structuredModel = c.defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cloudflare) Configured() bool {
	return c.accountID != "" && c.apiToken != ""
}

func (c *Cloudflare) model(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}

type runRequest struct {
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// streamOptions asks the gateway to append a usage chunk to the stream.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Stream runs a streaming generation. MethodGateway goes through AI
// Gateway's OpenAI-compatible endpoint; anything else calls Workers AI
// directly.
func (c *Cloudflare) Stream(ctx context.Context, req Request, onDelta func(string) error) (Completion, error) {
	if !c.Configured() {
		return Completion{}, ErrNotConfigured
	}
	if req.Method == models.MethodGateway {
		return c.streamGateway(ctx, req, onDelta)
	}
	return c.streamDirect(ctx, req, onDelta)
}

func (c *Cloudflare) streamDirect(ctx context.Context, req Request, onDelta func(string) error) (Completion, error) {
	model := c.model(req, c.defaultModel)
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.workersURL, c.accountID, model)

	resp, err := c.post(ctx, url, runRequest{Messages: req.messages(), Stream: true, MaxTokens: req.MaxTokens})
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	out := Completion{Provider: providerWorkersAI, Model: model}
	var text strings.Builder

	err = readEvents(resp.Body, func(data string) error {
		var ev struct {
			Response string `json:"response"`
			Usage    *Usage `json:"usage,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Warn("Skipping malformed stream event: %v", err)
			return nil
		}
		if ev.Usage != nil {
			out.Usage = *ev.Usage
		}
		if ev.Response == "" {
			return nil
		}
		text.WriteString(ev.Response)
		return onDelta(ev.Response)
	})
	out.Text = text.String()
	if err != nil {
		return out, fmt.Errorf("stream interrupted: %w", err)
	}
	out.FinishReason = "stop"
	return out, nil
}

func (c *Cloudflare) streamGateway(ctx context.Context, req Request, onDelta func(string) error) (Completion, error) {
	if c.gatewayID == "" {
		return Completion{}, fmt.Errorf("%w: gateway id missing", ErrNotConfigured)
	}
	model := c.model(req, c.defaultModel)
	url := fmt.Sprintf("%s/%s/%s/workers-ai/v1/chat/completions", c.gatewayURL, c.accountID, c.gatewayID)

	body := chatRequest{
		Model:         model,
		Messages:      req.messages(),
		Stream:        true,
		MaxTokens:     req.MaxTokens,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	out := Completion{Provider: providerGateway, Model: model}
	var text strings.Builder

	err = readEvents(resp.Body, func(data string) error {
		var ev struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *Usage `json:"usage,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Warn("Skipping malformed stream event: %v", err)
			return nil
		}
		if ev.Model != "" {
			out.Model = ev.Model
		}
		if ev.Usage != nil {
			out.Usage = *ev.Usage
		}
		if len(ev.Choices) == 0 {
			return nil
		}
		choice := ev.Choices[0]
		if choice.FinishReason != nil {
			out.FinishReason = *choice.FinishReason
		}
		if choice.Delta.Content == "" {
			return nil
		}
		text.WriteString(choice.Delta.Content)
		return onDelta(choice.Delta.Content)
	})
	out.Text = text.String()
	if err != nil {
		return out, fmt.Errorf("stream interrupted: %w", err)
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	return out, nil
}

// Structured asks for JSON matching req.Schema. The raw text is always
// returned; Structured is set only when it parsed, ParseError otherwise.
func (c *Cloudflare) Structured(ctx context.Context, req Request) (Completion, error) {
	if !c.Configured() {
		return Completion{}, ErrNotConfigured
	}
	model := c.model(req, c.structuredModel)
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.workersURL, c.accountID, model)

	schema := req.Schema
	if len(schema) == 0 {
		schema = MedicineInfoSchema
	}
	resp, err := c.post(ctx, url, runRequest{
		Messages:       req.messages(),
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_schema", JSONSchema: schema},
	})
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Result  struct {
			Response json.RawMessage `json:"response"`
			Usage    *Usage          `json:"usage,omitempty"`
		} `json:"result"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Completion{}, fmt.Errorf("error decoding response: %w", err)
	}
	if !envelope.Success && len(envelope.Errors) > 0 {
		return Completion{}, fmt.Errorf("workers ai: %s", envelope.Errors[0].Message)
	}

	out := Completion{Provider: providerWorkersAI, Model: model, FinishReason: "stop"}
	if envelope.Result.Usage != nil {
		out.Usage = *envelope.Result.Usage
	}
	out.Text, out.Structured, out.ParseError = parseStructured(envelope.Result.Response)
	return out, nil
}

// parseStructured accepts either a JSON object or a string holding JSON,
// which is what models without native schema support return.
func parseStructured(raw json.RawMessage) (text string, parsed json.RawMessage, parseErr string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil, "empty response"
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return string(trimmed), json.RawMessage(trimmed), ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return string(trimmed), nil, err.Error()
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSpace(strings.TrimSuffix(s, "```"))

	if !json.Valid([]byte(s)) {
		return s, nil, "response is not valid JSON"
	}
	return s, json.RawMessage(s), ""
}

func (c *Cloudflare) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}

// MedicineInfoSchema is the default structured-output schema.
var MedicineInfoSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "genericName": {"type": "string"},
    "uses": {"type": "array", "items": {"type": "string"}},
    "sideEffects": {"type": "array", "items": {"type": "string"}},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "requiresPrescription": {"type": "boolean"}
  },
  "required": ["name", "uses"]
}`)
