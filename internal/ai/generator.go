package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"medfinder/internal/billing"
	"medfinder/internal/events"
	"medfinder/internal/models"
	"medfinder/internal/store"
	"medfinder/internal/usage"
)

// ErrGenerationFailed wraps any provider or persistence failure after a
// reservation was taken. The reservation has been released when it is
// returned.
var ErrGenerationFailed = errors.New("generation failed")

// ResponseStore is the persistence the generator needs. store.Responses
// implements it.
type ResponseStore interface {
	FindByKey(ctx context.Context, requestorID, key string) (*models.AIResponse, error)
	Create(ctx context.Context, resp *models.AIResponse) (bool, error)
	AppendContent(ctx context.Context, id, chunk string) error
	Finalize(ctx context.Context, id string, fields map[string]interface{}) error
}

// Entitlements answers whether a user may go past the free quota.
// billing.Client implements it.
type Entitlements interface {
	Configured() bool
	Check(ctx context.Context, customerID string) (billing.CheckResult, error)
}

type GeneratorConfig struct {
	FreeLimit     int
	FlushBytes    int
	FlushInterval time.Duration
	SystemPrompt  string
}

type Generator struct {
	provider     Provider
	responses    ResponseStore
	meter        *usage.Meter
	entitlements Entitlements
	tracker      billing.Tracker
	bus          *events.EventBus
	cfg          GeneratorConfig
	now          func() time.Time
}

type GeneratorDeps struct {
	Provider     Provider
	Responses    ResponseStore
	Meter        *usage.Meter
	Entitlements Entitlements
	Tracker      billing.Tracker
	Bus          *events.EventBus
	Clock        func() time.Time
}

func NewGenerator(deps GeneratorDeps, cfg GeneratorConfig) *Generator {
	g := &Generator{
		provider:     deps.Provider,
		responses:    deps.Responses,
		meter:        deps.Meter,
		entitlements: deps.Entitlements,
		tracker:      deps.Tracker,
		bus:          deps.Bus,
		cfg:          cfg,
		now:          deps.Clock,
	}
	if g.tracker == nil {
		g.tracker = billing.NopTracker{}
	}
	if g.bus == nil {
		g.bus = events.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.cfg.FlushBytes <= 0 {
		g.cfg.FlushBytes = 512
	}
	if g.cfg.SystemPrompt == "" {
		g.cfg.SystemPrompt = defaultSystemPrompt
	}
	return g
}

const defaultSystemPrompt = "You are a pharmacy assistant. Answer questions about medicines, " +
	"dosages and availability concisely. Do not diagnose; recommend consulting a pharmacist or doctor when unsure."

type GenerateInput struct {
	UserID         string
	IdempotencyKey string
	Method         models.GenerationMethod
	Prompt         string
	Model          string
	// OnChunk receives every text fragment as it arrives. A returned error
	// aborts the generation.
	OnChunk func(string) error
}

type GenerateOutput struct {
	Response *models.AIResponse `json:"response,omitempty"`
	Usage    usage.Snapshot     `json:"usage"`
	Reason   usage.Reason       `json:"reason,omitempty"`
	Mode     usage.Mode         `json:"mode,omitempty"`
	Replayed bool               `json:"replayed,omitempty"`
}

// Denied reports whether the request was refused before generating.
func (o GenerateOutput) Denied() bool { return o.Reason != usage.ReasonNone }

// Generate reserves quota, runs the provider, persists the response and
// settles the reservation. Quota refusals come back as a Reason with a nil
// error. A repeated idempotency key returns the stored response without
// charging again.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}
	if in.Method == "" {
		in.Method = models.MethodDirect
	}

	if existing, err := g.responses.FindByKey(ctx, in.UserID, in.IdempotencyKey); err == nil {
		return g.replay(ctx, in.UserID, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return GenerateOutput{}, log.Error("Failed to look up idempotency key", err)
	}

	out, ok := g.reserve(ctx, in.UserID)
	if !ok {
		return out, nil
	}
	ulog := log.With("user", in.UserID).With("mode", out.Mode)
	ulog.Debug("reserved")
	g.bus.Emit(events.UsageReserved, out.Usage)

	// Settlement must survive the caller going away mid-stream.
	settleCtx := context.WithoutCancel(ctx)
	settled := false
	release := func() {
		if settled {
			return
		}
		settled = true
		res, err := g.meter.Release(settleCtx, in.UserID, g.cfg.FreeLimit)
		if err != nil {
			_ = ulog.Error("Failed to release reservation", err)
			return
		}
		out.Usage = res.Usage
		g.bus.Emit(events.UsageReleased, res.Usage)
	}

	resp := &models.AIResponse{
		RequestorID:    in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		Method:         in.Method,
		Prompt:         in.Prompt,
	}
	created, err := g.responses.Create(ctx, resp)
	if err != nil {
		release()
		return out, fmt.Errorf("%w: %v", ErrGenerationFailed, ulog.Error("Failed to create response", err))
	}
	if !created {
		// A concurrent request with the same key got there first.
		release()
		existing, err := g.responses.FindByKey(settleCtx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		return g.replay(ctx, in.UserID, existing)
	}
	g.bus.Emit(events.ResponseCreated, resp)

	completion, genErr := g.run(ctx, resp, in)
	if genErr != nil {
		if ctx.Err() != nil && !errors.Is(genErr, ctx.Err()) {
			genErr = fmt.Errorf("%w: %v", ctx.Err(), genErr)
		}
		g.fail(settleCtx, resp, completion.Text, genErr)
		release()
		return out, fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
	}

	if err := g.finalize(settleCtx, resp, in.Prompt, completion); err != nil {
		g.fail(settleCtx, resp, completion.Text, err)
		release()
		return out, fmt.Errorf("%w: %v", ErrGenerationFailed, ulog.Error("Failed to finalize response", err))
	}
	out.Response = resp
	g.bus.Emit(events.ResponseCompleted, resp)

	res, err := g.meter.Complete(settleCtx, in.UserID, g.cfg.FreeLimit)
	switch {
	case err != nil:
		_ = ulog.Error("Failed to complete reservation", err)
		release()
		return out, nil
	case !res.OK:
		// Swept while generating; nothing is pending to settle.
		ulog.Warn("Completion found no pending reservation")
		settled = true
		out.Usage = res.Usage
		return out, nil
	}
	settled = true
	out.Usage = res.Usage
	g.bus.Emit(events.UsageCompleted, res.Usage)

	if out.Mode == usage.ModePaid {
		g.tracker.Track(settleCtx, billing.TrackPayload{
			CustomerID: in.UserID,
			Value:      1,
			Properties: map[string]interface{}{
				"responseId": resp.ID,
				"method":     string(in.Method),
				"model":      resp.Model,
				"tokens":     resp.TotalTokens,
			},
		})
	}
	return out, nil
}

// reserve applies the admission policy: free quota first, then the billing
// provider's entitlement check, then a paid reservation.
func (g *Generator) reserve(ctx context.Context, userID string) (GenerateOutput, bool) {
	res, err := g.meter.Reserve(ctx, userID, g.cfg.FreeLimit, usage.ModeFree)
	if err != nil {
		_ = log.Error("Failed to reserve free message for %s", err, userID)
		return GenerateOutput{Reason: usage.ReasonReservationFailed}, false
	}
	if res.OK {
		return GenerateOutput{Usage: res.Usage, Mode: usage.ModeFree}, true
	}

	out := GenerateOutput{Usage: res.Usage, Reason: res.Reason}
	if res.Reason != usage.ReasonFreeLimitExhausted || g.entitlements == nil || !g.entitlements.Configured() {
		return out, false
	}

	check, err := g.entitlements.Check(ctx, userID)
	if err != nil {
		_ = log.Error("Entitlement check failed for %s", err, userID)
		out.Reason = usage.ReasonAutumnCheckFailed
		return out, false
	}
	if !check.Allowed && !check.Unlimited {
		out.Reason = usage.ReasonUpgradeRequired
		return out, false
	}

	res, err = g.meter.Reserve(ctx, userID, g.cfg.FreeLimit, usage.ModePaid)
	if err != nil || !res.OK {
		if err != nil {
			_ = log.Error("Failed to reserve paid message for %s", err, userID)
		}
		out.Reason = usage.ReasonReservationFailed
		return out, false
	}
	return GenerateOutput{Usage: res.Usage, Mode: usage.ModePaid}, true
}

func (g *Generator) run(ctx context.Context, resp *models.AIResponse, in GenerateInput) (Completion, error) {
	req := Request{
		Method: in.Method,
		Model:  in.Model,
		System: g.cfg.SystemPrompt,
		Prompt: in.Prompt,
	}

	if in.Method == models.MethodStructured {
		completion, err := g.provider.Structured(ctx, req)
		if err != nil {
			return completion, err
		}
		if in.OnChunk != nil && completion.Text != "" {
			if err := in.OnChunk(completion.Text); err != nil {
				return completion, err
			}
		}
		return completion, nil
	}

	buf := NewContentBuffer(g.cfg.FlushBytes, g.cfg.FlushInterval, func(chunk string) error {
		return g.responses.AppendContent(ctx, resp.ID, chunk)
	}, g.now)

	completion, err := g.provider.Stream(ctx, req, func(delta string) error {
		if err := buf.Add(delta); err != nil {
			return fmt.Errorf("failed to persist content: %w", err)
		}
		if in.OnChunk != nil {
			return in.OnChunk(delta)
		}
		return nil
	})
	if completion.Text == "" {
		completion.Text = buf.String()
	}
	if err != nil {
		return completion, err
	}
	if err := buf.Flush(); err != nil {
		return completion, fmt.Errorf("failed to persist content: %w", err)
	}
	return completion, nil
}

func (g *Generator) finalize(ctx context.Context, resp *models.AIResponse, prompt string, c Completion) error {
	tokens, estimated := normalizeUsage(c.Usage, prompt, c.Text)
	now := g.now()

	fields := map[string]interface{}{
		"status":            models.ResponseComplete,
		"content":           c.Text,
		"provider":          c.Provider,
		"model":             c.Model,
		"finish_reason":     c.FinishReason,
		"prompt_tokens":     tokens.PromptTokens,
		"completion_tokens": tokens.CompletionTokens,
		"total_tokens":      tokens.TotalTokens,
		"tokens_estimated":  estimated,
		"parse_error":       c.ParseError,
		"completed_at":      now,
	}
	if len(c.Structured) > 0 {
		fields["structured_result"] = datatypes.JSON(c.Structured)
	}
	if err := g.responses.Finalize(ctx, resp.ID, fields); err != nil {
		return err
	}

	resp.Status = models.ResponseComplete
	resp.Content = c.Text
	resp.Provider = c.Provider
	resp.Model = c.Model
	resp.FinishReason = c.FinishReason
	resp.PromptTokens = tokens.PromptTokens
	resp.CompletionTokens = tokens.CompletionTokens
	resp.TotalTokens = tokens.TotalTokens
	resp.TokensEstimated = estimated
	resp.StructuredResult = datatypes.JSON(c.Structured)
	resp.ParseError = c.ParseError
	resp.CompletedAt = &now
	return nil
}

func (g *Generator) fail(ctx context.Context, resp *models.AIResponse, partial string, cause error) {
	now := g.now()
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "client disconnected"
	}
	err := g.responses.Finalize(ctx, resp.ID, map[string]interface{}{
		"status":        models.ResponseError,
		"content":       partial,
		"error_message": strings.TrimSpace(msg),
		"completed_at":  now,
	})
	if err != nil {
		_ = log.Error("Failed to mark response %s as failed", err, resp.ID)
	}
	resp.Status = models.ResponseError
	resp.Content = partial
	resp.ErrorMessage = msg
	resp.CompletedAt = &now
	g.bus.Emit(events.ResponseFailed, resp)
}

func (g *Generator) replay(ctx context.Context, userID string, existing *models.AIResponse) (GenerateOutput, error) {
	snap, err := g.meter.Current(ctx, userID, g.cfg.FreeLimit)
	if err != nil {
		return GenerateOutput{}, err
	}
	return GenerateOutput{Response: existing, Usage: snap, Replayed: true}, nil
}

// Current returns the caller's quota state.
func (g *Generator) Current(ctx context.Context, userID string) (usage.Snapshot, error) {
	return g.meter.Current(ctx, userID, g.cfg.FreeLimit)
}

func (g *Generator) FreeLimit() int { return g.cfg.FreeLimit }
