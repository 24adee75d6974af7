package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// APIError is returned for a non-2xx response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Provider, e.StatusCode, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
		Text    string       `json:"text"`
	} `json:"choices"`
	Response string `json:"response"`
	Text     string `json:"text"`
}

// Client sends prompts to one provider. It is safe for concurrent use.
type Client struct {
	cfg         Config
	provider    Provider
	url         string
	temperature float64
	http        *http.Client
	limiter     *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// New validates cfg and creates a client for it.
func New(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	p, _ := LookupProvider(cfg.Provider)

	if cfg.Model == "" {
		cfg.Model = p.DefaultModel
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
		burst = cfg.RequestsPerMinute
	}

	c := &Client{
		cfg:         cfg,
		provider:    p,
		url:         endpointURL(p, cfg),
		temperature: temperature,
		http:        &http.Client{},
		limiter:     rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provider returns the provider the client talks to.
func (c *Client) Provider() Provider { return c.provider }

// Generate sends prompt as a single user message and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.provider.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{
			Provider:   c.provider.Name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode %s response: %w", c.provider.Name, err)
	}

	text := replyText(parsed)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// replyText accepts the standard choices[0].message.content shape and the
// looser shapes some OpenAI-compatible gateways return.
func replyText(r chatResponse) string {
	if len(r.Choices) > 0 {
		if m := r.Choices[0].Message; m != nil && m.Content != "" {
			return m.Content
		}
		return r.Choices[0].Text
	}
	if r.Response != "" {
		return r.Response
	}
	return r.Text
}
