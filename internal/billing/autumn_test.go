package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"medfinder/internal/config"
	"medfinder/internal/events"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BillingConfig{
		SecretKey: "am_sk_test",
		BaseURL:   srv.URL + "/v1/",
		FeatureID: "messages",
		ProductID: "pro",
	}, srv.Client())
}

func TestCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/check" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer am_sk_test" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["customer_id"] != "u1" || body["feature_id"] != "messages" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"allowed":true,"balance":42}`))
	})

	res, err := c.Check(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Balance == nil || *res.Balance != 42 {
		t.Errorf("result = %+v", res)
	}
}

func TestCheckAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := c.Check(context.Background(), "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
}

func TestTrackSendsProperties(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CustomerID string                 `json:"customer_id"`
			Value      float64                `json:"value"`
			Properties map[string]interface{} `json:"properties"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/v1/track" || body.CustomerID != "u1" || body.Value != 1 || body.Properties["method"] != "direct" {
			t.Errorf("path=%s body=%+v", r.URL.Path, body)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Track(context.Background(), "u1", 1, map[string]interface{}{"method": "direct"}); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutAndCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/attach":
			_, _ = w.Write([]byte(`{"checkout_url":"https://pay.example/abc"}`))
		case "/v1/customers/u%2F1", "/v1/customers/u/1":
			_, _ = w.Write([]byte(`{"id":"u/1","products":[{"id":"pro","status":"active"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	url, err := c.Checkout(context.Background(), "u1", "a@b.c", "")
	if err != nil || url != "https://pay.example/abc" {
		t.Fatalf("checkout = %q, %v", url, err)
	}

	cust, err := c.Customer(context.Background(), "u/1")
	if err != nil || len(cust.Products) != 1 || cust.Products[0].ID != "pro" {
		t.Fatalf("customer = %+v, %v", cust, err)
	}
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient(config.BillingConfig{}, nil)
	if c.Configured() {
		t.Fatal("client without key reports configured")
	}
	if _, err := c.Check(context.Background(), "u1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}

type reporterFunc func(ctx context.Context, customerID string, value float64, props map[string]interface{}) error

func (f reporterFunc) Track(ctx context.Context, customerID string, value float64, props map[string]interface{}) error {
	return f(ctx, customerID, value, props)
}

func TestSyncTrackerSwallowsErrors(t *testing.T) {
	bus := events.NewEventBus()
	failed := make(chan events.Event, 1)
	bus.On(events.BillingTrackFailed, func(ev events.Event) { failed <- ev })

	tr := NewSyncTracker(reporterFunc(func(context.Context, string, float64, map[string]interface{}) error {
		return errors.New("timeout")
	}), bus)

	tr.Track(context.Background(), TrackPayload{CustomerID: "u1", Value: 1})
	bus.Wait()

	select {
	case ev := <-failed:
		if ev.Data.(TrackPayload).CustomerID != "u1" {
			t.Errorf("payload = %+v", ev.Data)
		}
	default:
		t.Fatal("no failure event")
	}
}

type enqueuerFunc func(ctx context.Context, p TrackPayload) error

func (f enqueuerFunc) EnqueueBillingTrack(ctx context.Context, p TrackPayload) error {
	return f(ctx, p)
}

type recordingTracker struct {
	mu  sync.Mutex
	got []TrackPayload
}

func (r *recordingTracker) Track(_ context.Context, p TrackPayload) {
	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
}

func TestQueueTrackerFallsBackInline(t *testing.T) {
	fallback := &recordingTracker{}

	ok := NewQueueTracker(enqueuerFunc(func(context.Context, TrackPayload) error { return nil }), fallback)
	ok.Track(context.Background(), TrackPayload{CustomerID: "queued"})

	broken := NewQueueTracker(enqueuerFunc(func(context.Context, TrackPayload) error {
		return errors.New("redis unavailable")
	}), fallback)
	broken.Track(context.Background(), TrackPayload{CustomerID: "inline"})

	if len(fallback.got) != 1 || fallback.got[0].CustomerID != "inline" {
		t.Errorf("fallback got %+v", fallback.got)
	}
}
