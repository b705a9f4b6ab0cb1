package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestGetModelCachesByConfigKey(t *testing.T) {
	r := NewRegistry(nil)
	cfg := ProviderConfig{Name: "deepseek", APIKey: "k", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat", Enabled: true, Timeout: 30 * time.Second}

	m1, err := r.GetModel(cfg)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	m2, err := r.GetModel(cfg)
	if err != nil {
		t.Fatalf("GetModel second: %v", err)
	}
	if m1 != m2 {
		t.Error("same config should return the cached model")
	}

	cfg.Model = "deepseek-reasoner"
	m3, err := r.GetModel(cfg)
	if err != nil {
		t.Fatalf("GetModel third: %v", err)
	}
	if m3 == m1 {
		t.Error("different model name must build a new handle")
	}
}

func TestGetModelUnknownProvider(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.GetModel(ProviderConfig{Name: "mystery", Enabled: true})

	var notFound *ErrProviderNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ErrProviderNotFound", err)
	}
	if notFound.Name != "mystery" {
		t.Errorf("Name = %q, want mystery", notFound.Name)
	}
}

func TestGetModelDisabledProvider(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.GetModel(ProviderConfig{Name: "deepseek", Enabled: false})

	var notConfigured *ErrProviderNotConfigured
	if !errors.As(err, &notConfigured) {
		t.Fatalf("err = %v, want ErrProviderNotConfigured", err)
	}
}

func TestGetModelMissingAPIKey(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.GetModel(ProviderConfig{Name: "openai", Enabled: true})

	var notConfigured *ErrProviderNotConfigured
	if !errors.As(err, &notConfigured) {
		t.Fatalf("err = %v, want ErrProviderNotConfigured", err)
	}

	// Ollama works without a key.
	if _, err := r.GetModel(ProviderConfig{Name: "ollama", Model: "llama3", BaseURL: "http://localhost:11434", Enabled: true}); err != nil {
		t.Errorf("ollama without key: %v", err)
	}
}

func TestShutdownEmptiesCache(t *testing.T) {
	r := NewRegistry(nil)
	cfg := ProviderConfig{Name: "ollama", Model: "llama3", Enabled: true}
	m1, _ := r.GetModel(cfg)
	r.Shutdown()
	m2, _ := r.GetModel(cfg)
	if m1 == m2 {
		t.Error("shutdown should drop cached handles")
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Api-Key", "secret2")
	h.Set("Content-Type", "application/json")

	out := redactHeaders(h)
	if out["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization = %q, want redacted", out["Authorization"])
	}
	if out["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("X-Api-Key = %q, want redacted", out["X-Api-Key"])
	}
	if out["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want passthrough", out["Content-Type"])
	}
}
