// Package genai talks to the generative model used for answers and concept
// extraction.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matsen/kbase/internal/config"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
	"github.com/matsen/kbase/internal/remote"
)

const (
	// DefaultBaseURL is the Anthropic API base.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel is the default generative model.
	DefaultModel = "claude-3-7-sonnet-20250219"

	anthropicVersion = "2023-06-01"
	messagesPath     = "/v1/messages"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Generator produces text from a single-turn prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Anthropic is a Generator over the Anthropic Messages API.
type Anthropic struct {
	baseURL string
	apiKey  string
	model   string
	client  *remote.Client
}

// Option configures an Anthropic client.
type Option func(*Anthropic)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(a *Anthropic) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(a *Anthropic) {
		a.model = model
	}
}

// WithClient sets the remote client used for calls.
func WithClient(c *remote.Client) Option {
	return func(a *Anthropic) {
		a.client = c
	}
}

// NewAnthropic creates a generator. An empty apiKey is an error.
func NewAnthropic(apiKey string, opts ...Option) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", remote.ErrMissingAPIKey)
	}
	a := &Anthropic{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		model:   DefaultModel,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = remote.New("anthropic")
	}
	return a, nil
}

// New builds the generator selected by cfg.
func New(cfg config.GenerativeConfig, logger *logging.Logger, m *metrics.Metrics) (Generator, error) {
	if cfg.Provider != "" && cfg.Provider != "anthropic" {
		return nil, fmt.Errorf("unknown generative provider %q", cfg.Provider)
	}
	client := remote.New("anthropic",
		remote.WithPolicy(remote.Policy{
			Timeout:           time.Duration(cfg.TimeoutSecs) * time.Second,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}),
		remote.WithLogger(logger),
		remote.WithMetrics(m),
	)
	opts := []Option{WithClient(client)}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	a, err := NewAnthropic(cfg.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Model returns the configured model name.
func (a *Anthropic) Model() string {
	return a.model
}

// Generate sends prompt as a single user message and returns the
// concatenated text blocks of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := messagesRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp messagesResponse
	if err := a.client.PostJSON(ctx, "messages", a.baseURL+messagesPath, headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &remote.ExternalCallError{
			Service: a.client.Service(),
			Op:      "messages",
			Err:     fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message),
		}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &remote.ExternalCallError{Service: a.client.Service(), Op: "messages", Err: ErrEmptyCompletion}
	}
	return sb.String(), nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
