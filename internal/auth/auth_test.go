package auth

import (
	"testing"
	"time"
)

func newTestHandler(t *testing.T, expiration time.Duration) *Handler {
	t.Helper()
	h, err := NewHandler("test-secret", expiration, "123456", t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestVerifyPassword(t *testing.T) {
	h := newTestHandler(t, time.Hour)
	if !h.VerifyPassword("123456") {
		t.Error("correct password rejected")
	}
	if h.VerifyPassword("wrong") {
		t.Error("wrong password accepted")
	}
	if h.VerifyPassword("") {
		t.Error("empty password accepted")
	}
}

func TestGenerateAndVerifyToken(t *testing.T) {
	h := newTestHandler(t, time.Hour)

	token, err := h.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !h.VerifyToken(token) {
		t.Error("fresh token should verify")
	}
	if h.VerifyToken(token + "x") {
		t.Error("tampered token should fail")
	}
	if h.VerifyToken("not-a-token") {
		t.Error("garbage should fail")
	}

	// Token signed with another secret must fail.
	other, err := NewHandler("other-secret", time.Hour, "123456", t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if other.VerifyToken(token) {
		t.Error("cross-secret token should fail")
	}
}

func TestExpiredToken(t *testing.T) {
	h := newTestHandler(t, time.Hour)
	h.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := h.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	h.now = time.Now
	if h.VerifyToken(token) {
		t.Error("expired token should fail")
	}
}

func TestTokenPersistence(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler("s", time.Hour, "p", dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	token, _ := h.GenerateToken()
	h.SaveToken("device-1", token)

	if !h.IsTokenValid("device-1") {
		t.Error("saved token should be valid")
	}
	if h.IsTokenValid("device-2") {
		t.Error("unknown device should not be valid")
	}

	// Reload from disk.
	h2, err := NewHandler("s", time.Hour, "p", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := h2.StoredToken("device-1")
	if !ok || got != token {
		t.Errorf("StoredToken after reload = %q %v", got, ok)
	}

	// Saving again replaces in place.
	token2, _ := h2.GenerateToken()
	h2.SaveToken("device-1", token2)
	got, _ = h2.StoredToken("device-1")
	if got != token2 {
		t.Error("SaveToken should replace the existing entry")
	}

	h2.RemoveToken("device-1")
	if _, ok := h2.StoredToken("device-1"); ok {
		t.Error("removed token still present")
	}
}

func TestStartupPrunesExpiredTokens(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler("s", time.Hour, "p", dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	h.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := h.GenerateToken()
	h.now = time.Now
	h.SaveToken("stale", stale)

	good, _ := h.GenerateToken()
	h.SaveToken("fresh", good)

	// A restart reloads the file and drops what no longer verifies.
	h2, err := NewHandler("s", time.Hour, "p", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h2.StoredToken("stale"); ok {
		t.Error("stale token survived startup cleanup")
	}
	if !h2.IsTokenValid("fresh") {
		t.Error("fresh token should survive startup cleanup")
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	h := newTestHandler(t, time.Hour)

	good, _ := h.GenerateToken()
	h.SaveToken("fresh", good)

	h.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := h.GenerateToken()
	h.now = time.Now
	h.SaveToken("stale", stale)

	if removed := h.CleanupExpiredTokens(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if !h.IsTokenValid("fresh") {
		t.Error("fresh token should survive cleanup")
	}
	if h.IsTokenValid("stale") {
		t.Error("stale token should be gone")
	}
}
