package llm

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ProviderConfig is everything needed to construct a Model handle.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Enabled bool
	Timeout time.Duration
}

type cacheKey struct {
	provider string
	model    string
	baseURL  string
	timeout  time.Duration
}

type cacheEntry struct {
	model  Model
	client *http.Client
}

// Registry caches Model handles and their HTTP clients per provider config.
// Handles are shared across connections; all of them are concurrency-safe.
type Registry struct {
	mu     sync.Mutex
	cache  map[cacheKey]*cacheEntry
	logger *slog.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cache:  make(map[cacheKey]*cacheEntry),
		logger: logger,
	}
}

// GetModel returns a cached Model for cfg, building one on first use.
// Disabled configs fail with ErrProviderNotConfigured; unknown provider
// names fail with ErrProviderNotFound.
func (r *Registry) GetModel(cfg ProviderConfig) (Model, error) {
	name := strings.ToLower(cfg.Name)

	if !cfg.Enabled {
		return nil, &ErrProviderNotConfigured{Name: name, Reason: "提供商未启用"}
	}

	key := cacheKey{provider: name, model: cfg.Model, baseURL: cfg.BaseURL, timeout: cfg.Timeout}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[key]; ok {
		return entry.model, nil
	}

	client := r.newClient(name, cfg.Timeout)

	var model Model
	switch name {
	case "deepseek", "openai", "ollama":
		if name != "ollama" && cfg.APIKey == "" {
			return nil, &ErrProviderNotConfigured{Name: name, Reason: "缺少 API Key"}
		}
		model = newOpenAICompatModel(name, cfg, client)
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, &ErrProviderNotConfigured{Name: name, Reason: "缺少 API Key"}
		}
		model = newAnthropicModel(cfg, client)
	default:
		return nil, &ErrProviderNotFound{Name: name}
	}

	r.cache[key] = &cacheEntry{model: model, client: client}
	r.logger.Info("model created", "provider", name, "model", cfg.Model)
	return model, nil
}

// Warmup pre-builds the model for the given config so the first chat
// request does not pay construction cost.
func (r *Registry) Warmup(cfg ProviderConfig) error {
	_, err := r.GetModel(cfg)
	return err
}

// Shutdown closes all cached HTTP clients and empties the cache.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.cache {
		entry.client.CloseIdleConnections()
		delete(r.cache, key)
	}
	r.logger.Info("model registry shut down")
}

func (r *Registry) newClient(provider string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingTransport{
			base:     http.DefaultTransport,
			provider: provider,
			logger:   r.logger,
		},
	}
}

// maxLoggedBody caps how much request/response body is written to the log.
const maxLoggedBody = 2048

// loggingTransport records a raw-request and raw-response line per round
// trip, with credential headers redacted and bodies truncated.
type loggingTransport struct {
	base     http.RoundTripper
	provider string
	logger   *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug("llm raw request",
		"provider", t.provider,
		"method", req.Method,
		"url", req.URL.String(),
		"headers", redactHeaders(req.Header),
		"body", snapshotBody(&req.Body))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("llm raw response", "provider", t.provider, "error", err)
		return resp, err
	}

	// Streaming responses are not buffered here; only the status line and
	// headers are recorded for them.
	body := ""
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		body = snapshotBody(&resp.Body)
	}
	t.logger.Debug("llm raw response",
		"provider", t.provider,
		"status", resp.StatusCode,
		"headers", redactHeaders(resp.Header),
		"body", body)
	return resp, nil
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "authorization") || strings.Contains(lower, "api-key") || lower == "cookie" {
			out[name] = "[REDACTED]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// snapshotBody reads up to maxLoggedBody bytes for logging and replaces the
// consumed reader so the caller still sees the full body.
func snapshotBody(body *io.ReadCloser) string {
	if body == nil || *body == nil {
		return ""
	}
	data, err := io.ReadAll(*body)
	if err != nil {
		return ""
	}
	(*body).Close()
	*body = io.NopCloser(bytes.NewReader(data))
	if len(data) > maxLoggedBody {
		return string(data[:maxLoggedBody]) + "...(truncated)"
	}
	return string(data)
}
