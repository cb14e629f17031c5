package session

import (
	"testing"
	"time"

	"callbridge/internal/config"
)

func testTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(config.ProviderConfig{
		APIKey:    "APIkey123",
		APISecret: "supersecret",
		TokenTTL:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return tm
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := testTokenManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, err := tm.AccessToken(now, RoomGrant{Room: "room-1", RoomAdmin: true, CanDial: true})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	grant, err := tm.VerifyWebhook(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if grant.Room != "room-1" || !grant.RoomAdmin || !grant.CanDial {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := testTokenManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, err := tm.AccessToken(now, RoomGrant{Room: "room-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := tm.VerifyWebhook(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestTokenManager_VerifyHonorsCallerClock(t *testing.T) {
	tm := testTokenManager(t)
	issued := time.Date(2031, 6, 1, 9, 0, 0, 0, time.UTC)

	tok, err := tm.AccessToken(issued, RoomGrant{Room: "room-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// The caller's clock decides validity, not the wall clock.
	if _, err := tm.VerifyWebhook(tok, issued.Add(time.Minute)); err != nil {
		t.Fatalf("verify at issue time failed: %v", err)
	}
	if _, err := tm.VerifyWebhook(tok, issued.Add(-time.Hour)); err == nil {
		t.Fatalf("expected not-yet-valid error before issue time")
	}
}

func TestNewTokenManager_RequiresCredentials(t *testing.T) {
	if _, err := NewTokenManager(config.ProviderConfig{APIKey: "k"}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
