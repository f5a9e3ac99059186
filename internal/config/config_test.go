package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FREE_MESSAGE_LIMIT", "")
	t.Setenv("AUTUMN_SECRET_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// An unparsable FREE_MESSAGE_LIMIT falls back to the default.
	if cfg.Usage.FreeMessageLimit != 10 {
		t.Errorf("FreeMessageLimit = %d, want 10", cfg.Usage.FreeMessageLimit)
	}
	if cfg.Billing.Enabled() {
		t.Error("billing should be disabled without a secret key")
	}
	if cfg.Usage.StaleReservationTTL != 0 {
		t.Errorf("stale sweep should default to disabled, got %v", cfg.Usage.StaleReservationTTL)
	}
	if cfg.Billing.FeatureID != "messages" {
		t.Errorf("FeatureID = %q", cfg.Billing.FeatureID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FREE_MESSAGE_LIMIT", "3")
	t.Setenv("AUTUMN_SECRET_KEY", "am_sk_test")
	t.Setenv("BILLING_TRACK_ASYNC", "yes")
	t.Setenv("USAGE_STALE_RESERVATION_TTL", "30m")
	t.Setenv("AI_FLUSH_INTERVAL", "1s")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Usage.FreeMessageLimit != 3 {
		t.Errorf("FreeMessageLimit = %d", cfg.Usage.FreeMessageLimit)
	}
	if !cfg.Billing.Enabled() || !cfg.Billing.TrackAsync {
		t.Errorf("billing = %+v", cfg.Billing)
	}
	if cfg.Usage.StaleReservationTTL != 30*time.Minute {
		t.Errorf("StaleReservationTTL = %v", cfg.Usage.StaleReservationTTL)
	}
	if cfg.AI.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v", cfg.AI.FlushInterval)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoadRejectsNegativeLimit(t *testing.T) {
	t.Setenv("FREE_MESSAGE_LIMIT", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative free limit")
	}
}

func TestLoadRejectsSweepTTLWithinRequestTimeout(t *testing.T) {
	cases := []struct {
		name    string
		ttl     string
		timeout string
		wantErr bool
	}{
		{"disabled", "0", "2m", false},
		{"below timeout", "1m", "2m", true},
		{"equal to timeout", "2m", "2m", true},
		{"no timeout", "10m", "0", true},
		{"above timeout", "5m", "2m", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("USAGE_STALE_RESERVATION_TTL", tc.ttl)
			t.Setenv("AI_REQUEST_TIMEOUT", tc.timeout)
			_, err := Load()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Load() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestS3Enabled(t *testing.T) {
	if (S3Config{BucketName: "b"}).Enabled() {
		t.Error("bucket without credentials must not enable S3")
	}
	if !(S3Config{BucketName: "b", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Error("complete S3 config should be enabled")
	}
}
