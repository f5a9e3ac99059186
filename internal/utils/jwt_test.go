package utils

import (
	"testing"
	"time"

	"medfinder/internal/config"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(config.JWTConfig{Secret: "s3cret", TokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	token, claims, err := issuer.GenerateJWT("user-1", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(claims.ID) != 32 {
		t.Errorf("jti = %q", claims.ID)
	}

	parsed, err := issuer.ParseJWT(token)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.UserID != "user-1" || parsed.Email != "a@example.com" || parsed.ID != claims.ID {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer, _ := NewTokenIssuer(config.JWTConfig{Secret: "one"})
	other, _ := NewTokenIssuer(config.JWTConfig{Secret: "two"})

	token, _, _ := other.GenerateJWT("user-1", "")
	if _, err := issuer.ParseJWT(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}

	issuer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _, _ := issuer.GenerateJWT("user-1", "")
	issuer.now = time.Now
	if _, err := issuer.ParseJWT(expired); err == nil {
		t.Error("expired token was accepted")
	}
}

func TestNewTokenIssuerNeedsSecret(t *testing.T) {
	if _, err := NewTokenIssuer(config.JWTConfig{}); err != ErrMissingSecret {
		t.Errorf("err = %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v", tt.header, got, ok)
		}
	}
}
