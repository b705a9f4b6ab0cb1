package llm

import "fmt"

// ErrProviderNotFound reports an unknown provider name.
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return fmt.Sprintf("未知的 LLM 提供商: %s", e.Name)
}

// ErrProviderNotConfigured reports a known provider that is disabled or
// missing required credentials.
type ErrProviderNotConfigured struct {
	Name   string
	Reason string
}

func (e *ErrProviderNotConfigured) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("LLM 提供商未配置: %s (%s)", e.Name, e.Reason)
	}
	return fmt.Sprintf("LLM 提供商未配置: %s", e.Name)
}

// ErrLLM wraps a provider-side failure that is not a plain HTTP status error.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
