package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 {
		t.Errorf("listen = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.DefaultProvider != "deepseek" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.MaxHistoryTurns != 20 || cfg.QueueMaxSize != 100 || cfg.LLMWorkerCount != 2 {
		t.Errorf("limits = %d/%d/%d", cfg.MaxHistoryTurns, cfg.QueueMaxSize, cfg.LLMWorkerCount)
	}
	if !cfg.StreamSentenceMode {
		t.Error("StreamSentenceMode should default on")
	}
	if cfg.DeepSeek.BaseURL != "https://api.deepseek.com" || cfg.DeepSeek.Model != "deepseek-chat" {
		t.Errorf("deepseek = %+v", cfg.DeepSeek)
	}
	if cfg.WebSocket.PingInterval != 30 || cfg.WebSocket.MaxSize != 10*1024*1024 {
		t.Errorf("websocket = %+v", cfg.WebSocket)
	}
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcbridge.toml")
	content := `
port = 9090
default_provider = "ollama"

[ollama]
model = "qwen2"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MCBRIDGE_PORT", "7070")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	cfg := Load(path)

	// Env wins over file.
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Port)
	}
	if cfg.DefaultProvider != "ollama" {
		t.Errorf("DefaultProvider = %q, want ollama", cfg.DefaultProvider)
	}
	if cfg.Ollama.Model != "qwen2" {
		t.Errorf("Ollama.Model = %q, want qwen2", cfg.Ollama.Model)
	}
	// Unset fields keep defaults.
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.DeepSeek.APIKey != "sk-test" {
		t.Errorf("DeepSeek.APIKey = %q", cfg.DeepSeek.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
}

func TestProviderConfigFor(t *testing.T) {
	cfg := Default()
	cfg.DeepSeek.APIKey = "k"

	pc := cfg.ProviderConfigFor("")
	if pc.Name != "deepseek" || !pc.Enabled {
		t.Errorf("default provider = %+v", pc)
	}
	if pc.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v", pc.Timeout)
	}

	// No key means not enabled.
	if cfg.ProviderConfigFor("openai").Enabled {
		t.Error("openai without key should be disabled")
	}
	// Ollama never needs a key.
	if !cfg.ProviderConfigFor("ollama").Enabled {
		t.Error("ollama should always be enabled")
	}
	if cfg.ProviderConfigFor("mystery").Enabled {
		t.Error("unknown provider should come back disabled")
	}
}

func TestAvailableProviders(t *testing.T) {
	cfg := Default()
	got := cfg.AvailableProviders()
	if len(got) != 1 || got[0] != "ollama" {
		t.Errorf("AvailableProviders = %v, want [ollama]", got)
	}

	cfg.DeepSeek.APIKey = "a"
	cfg.Anthropic.APIKey = "b"
	got = cfg.AvailableProviders()
	want := []string{"deepseek", "anthropic", "ollama"}
	if len(got) != len(want) {
		t.Fatalf("AvailableProviders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AvailableProviders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcbridge.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	want := Default()
	if cfg.Port != want.Port || cfg.DefaultProvider != want.DefaultProvider {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DeepSeek.Model != want.DeepSeek.Model || cfg.WebSocket.PingInterval != want.WebSocket.PingInterval {
		t.Errorf("cfg = %+v", cfg)
	}
}
