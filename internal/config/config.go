package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/mcbridge/internal/llm"
)

type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Auth
	JWTSecret       string `toml:"jwt_secret"`
	JWTExpiration   int    `toml:"jwt_expiration"` // seconds
	DefaultPassword string `toml:"default_password"`

	// LLM
	DefaultProvider string         `toml:"default_provider"`
	DeepSeek        ProviderConfig `toml:"deepseek"`
	OpenAI          ProviderConfig `toml:"openai"`
	Anthropic       ProviderConfig `toml:"anthropic"`
	Ollama          ProviderConfig `toml:"ollama"`

	// Agent behavior
	MaxHistoryTurns     int  `toml:"max_history_turns"`
	StreamSentenceMode  bool `toml:"stream_sentence_mode"`
	ToolResponseVerbose bool `toml:"tool_response_verbose"`

	// Queue
	QueueMaxSize   int `toml:"queue_max_size"`
	LLMWorkerCount int `toml:"llm_worker_count"`

	// Protocol
	DedupExternalMessages bool `toml:"dedup_external_messages"`
	DevMode               bool `toml:"dev_mode"`

	WebSocket WebSocketConfig `toml:"websocket"`

	// Logging
	LogLevel          string `toml:"log_level"`
	EnableFileLogging bool   `toml:"enable_file_logging"`
	DataDir           string `toml:"data_dir"`

	Observer ObserverConfig `toml:"observer"`
}

type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"` // seconds
}

type WebSocketConfig struct {
	PingInterval int `toml:"ping_interval"` // seconds
	PingTimeout  int `toml:"ping_timeout"`  // seconds
	CloseTimeout int `toml:"close_timeout"` // seconds
	MaxSize      int `toml:"max_size"`      // bytes
	MaxQueue     int `toml:"max_queue"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		JWTSecret:       "change-me-in-production",
		JWTExpiration:   1800,
		DefaultPassword: "123456",
		DefaultProvider: "deepseek",
		DeepSeek:        ProviderConfig{Model: "deepseek-chat", BaseURL: "https://api.deepseek.com", Timeout: 60},
		OpenAI:          ProviderConfig{Model: "gpt-4o", Timeout: 60},
		Anthropic:       ProviderConfig{Model: "claude-sonnet-4-20250514", Timeout: 60},
		Ollama:          ProviderConfig{Model: "llama3", BaseURL: "http://localhost:11434", Timeout: 60},

		MaxHistoryTurns:     20,
		StreamSentenceMode:  true,
		ToolResponseVerbose: false,

		QueueMaxSize:   100,
		LLMWorkerCount: 2,

		DedupExternalMessages: true,
		DevMode:               false,

		WebSocket: WebSocketConfig{
			PingInterval: 30,
			PingTimeout:  15,
			CloseTimeout: 15,
			MaxSize:      10 * 1024 * 1024,
			MaxQueue:     32,
		},

		LogLevel:          "INFO",
		EnableFileLogging: true,
		DataDir:           "data",
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "mcbridge.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("MCBRIDGE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("MCBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("WEBSOCKET_PASSWORD"); v != "" {
		cfg.DefaultPassword = v
	}
	if v := os.Getenv("MCBRIDGE_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.DeepSeek.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("MCBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCBRIDGE_DEV_MODE"); v == "true" || v == "1" {
		cfg.DevMode = true
	}
	if v := os.Getenv("MCBRIDGE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// WriteDefault writes the default configuration as a TOML file.
func WriteDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	enc.Indent = ""
	return enc.Encode(Default())
}

// ProviderConfigFor returns the llm-level config for the named provider, or
// for the default provider when name is empty. Unknown names return a
// disabled config carrying the name; the registry reports the error.
func (c Config) ProviderConfigFor(name string) llm.ProviderConfig {
	if name == "" {
		name = c.DefaultProvider
	}

	switch name {
	case "deepseek":
		return llm.ProviderConfig{
			Name:    "deepseek",
			APIKey:  c.DeepSeek.APIKey,
			BaseURL: c.DeepSeek.BaseURL,
			Model:   c.DeepSeek.Model,
			Enabled: c.DeepSeek.APIKey != "",
			Timeout: time.Duration(c.DeepSeek.Timeout) * time.Second,
		}
	case "openai":
		return llm.ProviderConfig{
			Name:    "openai",
			APIKey:  c.OpenAI.APIKey,
			BaseURL: c.OpenAI.BaseURL,
			Model:   c.OpenAI.Model,
			Enabled: c.OpenAI.APIKey != "",
			Timeout: time.Duration(c.OpenAI.Timeout) * time.Second,
		}
	case "anthropic":
		return llm.ProviderConfig{
			Name:    "anthropic",
			APIKey:  c.Anthropic.APIKey,
			BaseURL: c.Anthropic.BaseURL,
			Model:   c.Anthropic.Model,
			Enabled: c.Anthropic.APIKey != "",
			Timeout: time.Duration(c.Anthropic.Timeout) * time.Second,
		}
	case "ollama":
		// Ollama needs no API key.
		return llm.ProviderConfig{
			Name:    "ollama",
			BaseURL: c.Ollama.BaseURL,
			Model:   c.Ollama.Model,
			Enabled: true,
			Timeout: time.Duration(c.Ollama.Timeout) * time.Second,
		}
	default:
		return llm.ProviderConfig{Name: name}
	}
}

// AvailableProviders lists providers that are currently usable.
// Ollama is always available because it needs no credentials.
func (c Config) AvailableProviders() []string {
	var providers []string
	if c.DeepSeek.APIKey != "" {
		providers = append(providers, "deepseek")
	}
	if c.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}
	if c.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}
	providers = append(providers, "ollama")
	return providers
}
