// Package auth issues and verifies the JWT tokens that gate chat
// access per device.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// storedToken pairs a device uuid with its last issued token.
type storedToken struct {
	UUID  string `json:"uuid"`
	Token string `json:"token"`
}

// Handler manages password checks, token issuance, and the persisted
// token list under <data_dir>/tokens.json.
type Handler struct {
	secret     []byte
	expiration time.Duration
	password   string
	tokenFile  string
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	tokens []storedToken
}

func NewHandler(secret string, expiration time.Duration, password, dataDir string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	h := &Handler{
		secret:     []byte(secret),
		expiration: expiration,
		password:   password,
		tokenFile:  filepath.Join(dataDir, "tokens.json"),
		logger:     logger,
		now:        time.Now,
	}
	h.loadTokens()
	h.CleanupExpiredTokens()
	return h, nil
}

func (h *Handler) loadTokens() {
	data, err := os.ReadFile(h.tokenFile)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &h.tokens); err != nil {
		h.logger.Error("load tokens failed", "error", err)
		h.tokens = nil
		return
	}
	h.logger.Info("tokens loaded", "count", len(h.tokens))
}

// saveTokensLocked writes the token list; call with mu held.
func (h *Handler) saveTokensLocked() {
	data, err := json.MarshalIndent(h.tokens, "", "  ")
	if err != nil {
		h.logger.Error("marshal tokens failed", "error", err)
		return
	}
	if err := os.WriteFile(h.tokenFile, data, 0o600); err != nil {
		h.logger.Error("save tokens failed", "error", err)
	}
}

// VerifyPassword checks the login password in constant time.
func (h *Handler) VerifyPassword(provided string) bool {
	return subtle.ConstantTimeCompare(
		[]byte(hashPassword(provided)), []byte(hashPassword(h.password))) == 1
}

// hashPassword returns the hex sha256 of a password.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// GenerateToken issues a fresh HS256 token.
func (h *Handler) GenerateToken() (string, error) {
	now := h.now()
	claims := jwt.MapClaims{
		"exp": now.Add(h.expiration).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.secret)
}

// VerifyToken reports whether a token is well-formed and unexpired.
func (h *Handler) VerifyToken(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && token.Valid
}

// SaveToken stores or replaces the device's token and persists.
func (h *Handler) SaveToken(deviceUUID, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.tokens {
		if h.tokens[i].UUID == deviceUUID {
			h.tokens[i].Token = token
			h.saveTokensLocked()
			return
		}
	}
	h.tokens = append(h.tokens, storedToken{UUID: deviceUUID, Token: token})
	h.saveTokensLocked()
}

// StoredToken returns the device's persisted token, if any.
func (h *Handler) StoredToken(deviceUUID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, item := range h.tokens {
		if item.UUID == deviceUUID {
			return item.Token, true
		}
	}
	return "", false
}

// IsTokenValid reports whether the device holds an unexpired token.
func (h *Handler) IsTokenValid(deviceUUID string) bool {
	token, ok := h.StoredToken(deviceUUID)
	return ok && h.VerifyToken(token)
}

// RemoveToken drops the device's token.
func (h *Handler) RemoveToken(deviceUUID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.tokens[:0]
	for _, item := range h.tokens {
		if item.UUID != deviceUUID {
			kept = append(kept, item)
		}
	}
	h.tokens = kept
	h.saveTokensLocked()
}

// CleanupExpiredTokens removes invalid tokens and returns how many
// were dropped.
func (h *Handler) CleanupExpiredTokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := make([]storedToken, 0, len(h.tokens))
	for _, item := range h.tokens {
		if h.VerifyToken(item.Token) {
			kept = append(kept, item)
		}
	}
	removed := len(h.tokens) - len(kept)
	if removed > 0 {
		h.tokens = kept
		h.saveTokensLocked()
		h.logger.Info("expired tokens cleaned", "removed", removed)
	}
	return removed
}
