// Package llm is a minimal client for OpenAI-compatible chat completion
// endpoints, used to generate custom detector scripts.
package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider describes a text-generation service the client can talk to.
// When CustomEndpoint is set the caller must supply the endpoint.
type Provider struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DefaultEndpoint string `json:"default_endpoint,omitempty"`
	DefaultModel    string `json:"default_model"`
	CustomEndpoint  bool   `json:"custom_endpoint"`
}

const (
	ProviderOpenAI = "openai"
	ProviderAIPipe = "aipipe"
	ProviderCustom = "custom"
)

var providers = []Provider{
	{
		ID:              ProviderOpenAI,
		Name:            "OpenAI GPT",
		Description:     "OpenAI's GPT models",
		DefaultEndpoint: "https://api.openai.com/v1/chat/completions",
		DefaultModel:    "gpt-4.1-mini",
	},
	{
		ID:              ProviderAIPipe,
		Name:            "AIPipe",
		Description:     "AIPipe.org API service",
		DefaultEndpoint: "https://aipipe.org/openrouter/v1/chat/completions",
		DefaultModel:    "openai/gpt-4o-mini",
	},
	{
		ID:             ProviderCustom,
		Name:           "Custom Endpoint",
		Description:    "Custom OpenAI-compatible API endpoint",
		DefaultModel:   "gpt-4.1-mini",
		CustomEndpoint: true,
	},
}

// Providers returns the supported providers.
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// LookupProvider returns the provider with the given id.
func LookupProvider(id string) (Provider, bool) {
	for _, p := range providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// Defaults used when Config leaves a field at its zero value.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 60 * time.Second
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("API key is required")
	ErrMissingEndpoint = errors.New("custom endpoint is required")
	ErrEmptyResponse   = errors.New("no response from text-generation service")
)

// Config selects a provider and its request parameters.
type Config struct {
	Provider string
	APIKey   string
	Endpoint string
	Model    string
	// Temperature is nil when unset; DefaultTemperature is used then.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	// RequestsPerMinute limits outbound calls; zero means unlimited.
	RequestsPerMinute int
}

// Validate checks that cfg names a known provider and carries the
// credentials and endpoint it needs.
func Validate(cfg Config) error {
	p, ok := LookupProvider(cfg.Provider)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("%w for %s", ErrMissingAPIKey, p.Name)
	}
	if p.CustomEndpoint && strings.TrimSpace(cfg.Endpoint) == "" {
		return fmt.Errorf("%w for %s", ErrMissingEndpoint, p.Name)
	}
	return nil
}

// endpointURL resolves the chat completions URL for cfg. A custom endpoint
// may be a base URL or the full completions URL.
func endpointURL(p Provider, cfg Config) string {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		return p.DefaultEndpoint
	}
	ep = strings.TrimRight(ep, "/")
	if strings.HasSuffix(ep, "/chat/completions") {
		return ep
	}
	return ep + "/chat/completions"
}
