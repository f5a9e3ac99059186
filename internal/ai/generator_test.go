package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"medfinder/internal/billing"
	"medfinder/internal/events"
	"medfinder/internal/models"
	"medfinder/internal/testutil"
	"medfinder/internal/usage"
)

type fakeProvider struct {
	deltas     []string
	failAfter  int
	err        error
	usage      Usage
	structured Completion
	streams    int
}

func (f *fakeProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (Completion, error) {
	f.streams++
	var text strings.Builder
	for i, d := range f.deltas {
		if f.err != nil && i == f.failAfter {
			return Completion{Text: text.String()}, f.err
		}
		if err := ctx.Err(); err != nil {
			return Completion{Text: text.String()}, err
		}
		text.WriteString(d)
		if err := onDelta(d); err != nil {
			return Completion{Text: text.String()}, err
		}
	}
	if f.err != nil && f.failAfter >= len(f.deltas) {
		return Completion{Text: text.String()}, f.err
	}
	return Completion{
		Text:         text.String(),
		Provider:     "fake",
		Model:        "fake-model",
		FinishReason: "stop",
		Usage:        f.usage,
	}, nil
}

func (f *fakeProvider) Structured(ctx context.Context, req Request) (Completion, error) {
	if f.err != nil {
		return Completion{}, f.err
	}
	return f.structured, nil
}

type harness struct {
	gen       *Generator
	meter     *usage.Meter
	responses *testutil.MemoryResponses
	tracker   *testutil.RecordingTracker
	ents      *testutil.MockEntitlements
	provider  *fakeProvider
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	h := &harness{
		meter:     usage.NewMeter(usage.NewMemoryStore(), nil),
		responses: testutil.NewMemoryResponses(),
		tracker:   &testutil.RecordingTracker{},
		ents:      &testutil.MockEntitlements{},
		provider:  &fakeProvider{deltas: []string{"Para", "cetamol ", "is an analgesic."}},
	}
	h.gen = NewGenerator(GeneratorDeps{
		Provider:     h.provider,
		Responses:    h.responses,
		Meter:        h.meter,
		Entitlements: h.ents,
		Tracker:      h.tracker,
		Bus:          events.NewEventBus(),
	}, GeneratorConfig{FreeLimit: limit, FlushBytes: 8, FlushInterval: time.Hour})
	return h
}

func (h *harness) current(t *testing.T) usage.Snapshot {
	t.Helper()
	snap, err := h.meter.Current(context.Background(), "u1", h.gen.FreeLimit())
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestGenerateSuccess(t *testing.T) {
	h := newHarness(t, 10)

	var streamed strings.Builder
	out, err := h.gen.Generate(context.Background(), GenerateInput{
		UserID:  "u1",
		Prompt:  "what is paracetamol",
		OnChunk: func(s string) error { streamed.WriteString(s); return nil },
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Denied() || out.Mode != usage.ModeFree {
		t.Fatalf("out = %+v", out)
	}
	want := "Paracetamol is an analgesic."
	if streamed.String() != want || out.Response.Content != want {
		t.Errorf("streamed %q, stored %q", streamed.String(), out.Response.Content)
	}
	if out.Response.Status != models.ResponseComplete {
		t.Errorf("status = %s", out.Response.Status)
	}
	if !out.Response.TokensEstimated || out.Response.CompletionTokens != EstimateTokens(want) {
		t.Errorf("tokens = %d estimated=%v", out.Response.CompletionTokens, out.Response.TokensEstimated)
	}
	if out.Usage.MessagesUsed != 1 || out.Usage.PendingMessages != 0 {
		t.Errorf("usage = %+v", out.Usage)
	}
	if len(h.responses.Appends) < 2 {
		t.Errorf("expected buffered flushes, got %v", h.responses.Appends)
	}
	if h.tracker.Count() != 0 {
		t.Error("free generations must not be tracked")
	}
}

func TestGenerateProviderUsageIsKept(t *testing.T) {
	h := newHarness(t, 10)
	h.provider.usage = Usage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18}

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Response.TokensEstimated || out.Response.TotalTokens != 18 {
		t.Errorf("response = %+v", out.Response)
	}
}

func TestGenerateFailureReleases(t *testing.T) {
	h := newHarness(t, 10)
	h.provider.err = errors.New("upstream 500")
	h.provider.failAfter = 1

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi", IdempotencyKey: "k1"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	snap := h.current(t)
	if snap.MessagesUsed != 0 || snap.PendingMessages != 0 {
		t.Errorf("usage after failure = %+v", snap)
	}
	if out.Usage.PendingMessages != 0 {
		t.Errorf("returned usage = %+v", out.Usage)
	}

	stored, _ := h.responses.FindByKey(context.Background(), "u1", "k1")
	if stored == nil || stored.Status != models.ResponseError || stored.Content != "Para" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestGenerateChunkCallbackErrorReleases(t *testing.T) {
	h := newHarness(t, 10)

	_, err := h.gen.Generate(context.Background(), GenerateInput{
		UserID:  "u1",
		Prompt:  "hi",
		OnChunk: func(string) error { return errors.New("broken pipe") },
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	if snap := h.current(t); snap.PendingMessages != 0 || snap.MessagesUsed != 0 {
		t.Errorf("usage = %+v", snap)
	}
}

func TestGenerateCancelledContextReleases(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.gen.Generate(ctx, GenerateInput{
		UserID:         "u1",
		Prompt:         "hi",
		IdempotencyKey: "k-cancel",
		OnChunk: func(string) error {
			cancel()
			return nil
		},
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	if snap := h.current(t); snap.PendingMessages != 0 {
		t.Errorf("reservation leaked: %+v", snap)
	}
	stored, _ := h.responses.FindByKey(context.Background(), "u1", "k-cancel")
	if stored.ErrorMessage != "client disconnected" {
		t.Errorf("error message = %q", stored.ErrorMessage)
	}
}

func TestFinalizeFailureReleases(t *testing.T) {
	h := newHarness(t, 10)
	h.responses.FinalizeErr = errors.New("db timeout")

	_, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	if snap := h.current(t); snap.PendingMessages != 0 || snap.MessagesUsed != 0 {
		t.Errorf("usage = %+v", snap)
	}
}

func TestFreeLimitWithoutBilling(t *testing.T) {
	h := newHarness(t, 1)

	if _, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "one"}); err != nil {
		t.Fatal(err)
	}
	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != usage.ReasonFreeLimitExhausted || out.Usage.FreeMessagesRemaining != 0 {
		t.Errorf("out = %+v", out)
	}
	if h.ents.Calls != 0 {
		t.Error("unconfigured billing must not be checked")
	}
	if h.provider.streams != 1 {
		t.Errorf("provider called %d times", h.provider.streams)
	}
}

func TestBillingDeniesUpgrade(t *testing.T) {
	h := newHarness(t, 0)
	h.ents.ConfiguredValue = true
	h.ents.CheckFunc = func(context.Context, string) (billing.CheckResult, error) {
		return billing.CheckResult{Allowed: false}, nil
	}

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != usage.ReasonUpgradeRequired {
		t.Errorf("reason = %s", out.Reason)
	}
	if h.provider.streams != 0 || h.responses.Len() != 0 {
		t.Error("denied request must not generate")
	}
}

func TestBillingCheckError(t *testing.T) {
	h := newHarness(t, 0)
	h.ents.ConfiguredValue = true
	h.ents.CheckFunc = func(context.Context, string) (billing.CheckResult, error) {
		return billing.CheckResult{}, errors.New("autumn down")
	}

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != usage.ReasonAutumnCheckFailed || h.provider.streams != 0 {
		t.Errorf("out = %+v streams=%d", out, h.provider.streams)
	}
}

func TestPaidGenerationIsTracked(t *testing.T) {
	h := newHarness(t, 0)
	h.ents.ConfiguredValue = true
	h.ents.CheckFunc = func(context.Context, string) (billing.CheckResult, error) {
		return billing.CheckResult{Allowed: true}, nil
	}

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Mode != usage.ModePaid || out.Usage.MessagesUsed != 1 {
		t.Errorf("out = %+v", out)
	}
	if h.tracker.Count() != 1 || h.tracker.Payloads[0].CustomerID != "u1" || h.tracker.Payloads[0].Value != 1 {
		t.Errorf("tracked = %+v", h.tracker.Payloads)
	}
}

func TestPaidFailureIsNotTracked(t *testing.T) {
	h := newHarness(t, 0)
	h.ents.ConfiguredValue = true
	h.ents.CheckFunc = func(context.Context, string) (billing.CheckResult, error) {
		return billing.CheckResult{Unlimited: true}, nil
	}
	h.provider.err = errors.New("boom")

	if _, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"}); err == nil {
		t.Fatal("expected failure")
	}
	if h.tracker.Count() != 0 {
		t.Error("failed paid generation was tracked")
	}
	if snap := h.current(t); snap.PendingMessages != 0 {
		t.Errorf("usage = %+v", snap)
	}
}

func TestIdempotentReplayDoesNotCharge(t *testing.T) {
	h := newHarness(t, 10)
	in := GenerateInput{UserID: "u1", Prompt: "hi", IdempotencyKey: "same"}

	first, err := h.gen.Generate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.gen.Generate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || second.Response.ID != first.Response.ID {
		t.Errorf("second = %+v", second)
	}
	if second.Usage.MessagesUsed != 1 || h.provider.streams != 1 {
		t.Errorf("usage = %+v, streams = %d", second.Usage, h.provider.streams)
	}
}

func TestStructuredGeneration(t *testing.T) {
	h := newHarness(t, 10)
	h.provider.structured = Completion{
		Text:       `{"name":"Ibuprofen","uses":["pain"]}`,
		Structured: json.RawMessage(`{"name":"Ibuprofen","uses":["pain"]}`),
		Provider:   "fake",
		Model:      "fake-structured",
	}

	out, err := h.gen.Generate(context.Background(), GenerateInput{
		UserID: "u1",
		Prompt: "describe ibuprofen",
		Method: models.MethodStructured,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Response.StructuredResult) != `{"name":"Ibuprofen","uses":["pain"]}` {
		t.Errorf("structured = %s", out.Response.StructuredResult)
	}
	if out.Response.Method != models.MethodStructured || out.Usage.MessagesUsed != 1 {
		t.Errorf("out = %+v", out)
	}
}

func TestReservationStoreErrorIsTyped(t *testing.T) {
	h := newHarness(t, 10)
	h.gen.meter = usage.NewMeter(brokenUsageStore{}, nil)

	out, err := h.gen.Generate(context.Background(), GenerateInput{UserID: "u1", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != usage.ReasonReservationFailed {
		t.Errorf("reason = %s", out.Reason)
	}
}

type brokenUsageStore struct{}

func (brokenUsageStore) Transition(context.Context, string, usage.TransitionFunc) (models.AIUsage, error) {
	return models.AIUsage{}, errors.New("db down")
}

func (brokenUsageStore) Get(context.Context, string) (models.AIUsage, bool, error) {
	return models.AIUsage{}, false, errors.New("db down")
}

func (brokenUsageStore) SweepStale(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}
