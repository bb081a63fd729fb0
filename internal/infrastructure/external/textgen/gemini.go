package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/circuitbreaker"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// GeminiClient generates text with Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(ctx context.Context, apiKey string, log *logger.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	log = log.With(logger.Component("textgen.gemini"))
	return &GeminiClient{
		client:  client,
		breaker: circuitbreaker.TextGenerationBreaker("gemini", breakerLogger(log)),
		log:     log,
	}, nil
}

// Name implements guidance.TextGenerator.
func (c *GeminiClient) Name() string { return "gemini" }

// Generate implements guidance.TextGenerator.
func (c *GeminiClient) Generate(ctx context.Context, req guidance.Request) (guidance.Response, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	var text string
	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
		if err != nil {
			return err
		}
		text = resp.Text()
		return nil
	})
	if err != nil {
		c.log.Debug("gemini generate failed", logger.String("model", req.Model), logger.Err(err))
		return guidance.Response{}, shared.WrapError("textgen", "Generate", classifyGemini(err), "gemini generate", err)
	}

	c.log.Debug("gemini generate", logger.String("model", req.Model), logger.Latency(time.Since(start)))

	text = strings.TrimSpace(text)
	if text == "" {
		return guidance.Response{}, shared.NewDomainError("textgen", "Generate", shared.ErrMalformedResponse, "empty answer")
	}
	return guidance.Response{Text: text, Model: req.Model}, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	return classifyTransport(err)
}

var _ guidance.TextGenerator = (*GeminiClient)(nil)
