package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/circuitbreaker"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	// BaseURL without the trailing /chat/completions
	BaseURL string

	APIKey string

	// Per-request HTTP timeout; the caller's context usually ends first
	Timeout time.Duration

	// Client-side request rate; zero disables the limiter
	RequestsPerSecond float64

	Temperature float64
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		BaseURL:           "https://api.openai.com/v1",
		APIKey:            apiKey,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Temperature:       0.7,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// OpenAIClient calls the chat completions endpoint over plain HTTP.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger
}

// NewOpenAIClient creates an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig, log *logger.Logger) *OpenAIClient {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	log = log.With(logger.Component("textgen.openai"))
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		breaker:    circuitbreaker.TextGenerationBreaker("openai", breakerLogger(log)),
		log:        log,
	}
}

// Name implements guidance.TextGenerator.
func (c *OpenAIClient) Name() string { return "openai" }

// Generate implements guidance.TextGenerator.
func (c *OpenAIClient) Generate(ctx context.Context, req guidance.Request) (guidance.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", classifyTransport(err), "rate limiter", err)
	}

	var out guidance.Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.complete(ctx, req)
		return err
	})
	if err != nil {
		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			return guidance.Response{}, err
		}
		return guidance.Response{}, shared.WrapError("textgen", "Generate", classifyTransport(err), "openai unavailable", err)
	}
	return out, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req guidance.Request) (guidance.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", shared.ErrExternalService, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", shared.ErrExternalService, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", classifyTransport(err), "http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", shared.ErrServiceUnavailable, "read response", err)
	}

	c.log.Debug("chat completion",
		logger.String("model", req.Model),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	var parsed chatResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg += ": " + parsed.Error.Message
		}
		return guidance.Response{}, shared.NewDomainError("textgen", "Generate", classifyStatus(resp.StatusCode), msg)
	}
	if decodeErr != nil {
		return guidance.Response{}, shared.WrapError("textgen", "Generate", shared.ErrMalformedResponse, "decode response", decodeErr)
	}
	if parsed.Error != nil {
		return guidance.Response{}, shared.NewDomainError("textgen", "Generate", shared.ErrExternalService, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return guidance.Response{}, shared.NewDomainError("textgen", "Generate", shared.ErrMalformedResponse, "no choices returned")
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	return guidance.Response{Text: strings.TrimSpace(parsed.Choices[0].Message.Content), Model: model}, nil
}

var _ guidance.TextGenerator = (*OpenAIClient)(nil)
