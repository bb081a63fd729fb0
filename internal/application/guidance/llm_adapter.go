package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/retry"
)

const (
	maxActionItems   = 5
	maxMessageLength = 600
)

const systemPrompt = `You are STELLA, the training coach of an astronaut academy.
Reply with a single JSON object and nothing else:
{"message": "<two or three encouraging sentences>", "actionItems": ["<short next step>", ...]}
Give at most five action items. Do not use markdown or HTML.`

// LLMConfig configures LLMAdapter.
type LLMConfig struct {
	// Models are tried in order until one answers.
	Models    []string
	MaxTokens int

	// Timeout bounds a whole GetGuidance call including retries.
	Timeout time.Duration

	CacheTTL time.Duration
}

// LLMAdapter asks a TextGenerator for guidance and degrades to Fallback().
type LLMAdapter struct {
	gen       TextGenerator
	cache     Cache
	cfg       LLMConfig
	retrier   *retry.Retrier
	sanitizer *bluemonday.Policy
	log       *logger.Logger
}

// NewLLMAdapter creates an LLMAdapter. cache may be nil.
func NewLLMAdapter(gen TextGenerator, cache Cache, cfg LLMConfig, log *logger.Logger) *LLMAdapter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{""}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LLMAdapter{
		gen:       gen,
		cache:     cache,
		cfg:       cfg,
		retrier:   retry.TextGenerationRetrier(shared.IsRetryable),
		sanitizer: bluemonday.StrictPolicy(),
		log:       log.With(logger.Component("guidance"), logger.String("generator", gen.Name())),
	}
}

// Timeout returns the bound applied to each call.
func (a *LLMAdapter) Timeout() time.Duration {
	return a.cfg.Timeout
}

// GetGuidance implements Adapter.
func (a *LLMAdapter) GetGuidance(ctx context.Context, userID string, gctx Context) Guidance {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	key := CacheKey(userID, gctx)
	if a.cache != nil {
		if g, ok, err := a.cache.Get(ctx, key); err != nil {
			a.log.Warn("guidance cache read failed", logger.Err(err))
		} else if ok {
			return g
		}
	}

	start := time.Now()
	g, err := a.generate(ctx, gctx)
	if err != nil {
		a.log.Warn("guidance generation failed, using fallback",
			logger.UserID(userID),
			logger.ModuleID(gctx.ModuleID),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return Fallback()
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, g, a.cfg.CacheTTL); err != nil {
			a.log.Warn("guidance cache write failed", logger.Err(err))
		}
	}
	return g
}

func (a *LLMAdapter) generate(ctx context.Context, gctx Context) (Guidance, error) {
	prompt := buildPrompt(gctx)

	var lastErr error
	for _, model := range a.cfg.Models {
		req := Request{Prompt: prompt, SystemPrompt: systemPrompt, MaxTokens: a.cfg.MaxTokens, Model: model}

		resp, err := retry.DoWithData(ctx, a.retrier, func(ctx context.Context) (Response, error) {
			return a.gen.Generate(ctx, req)
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		g, err := a.parse(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}
		return g, nil
	}

	if lastErr == nil {
		lastErr = shared.ErrGeneratorUnavailable
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return Guidance{}, shared.WrapError("guidance", "Generate", shared.ErrTimeout, "guidance deadline exceeded", lastErr)
	}
	return Guidance{}, lastErr
}

// parse accepts a JSON object, optionally wrapped in a code fence or
// surrounded by prose.
func (a *LLMAdapter) parse(text string) (Guidance, error) {
	raw := extractJSON(text)
	if raw == "" {
		return Guidance{}, shared.ErrGuidanceMalformed
	}

	var answer struct {
		Message     string   `json:"message"`
		ActionItems []string `json:"actionItems"`
	}
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return Guidance{}, shared.WrapError("guidance", "Parse", shared.ErrMalformedResponse, "answer is not valid JSON", err)
	}

	g := Guidance{Message: a.clean(answer.Message), ActionItems: []string{}}
	if g.Message == "" {
		return Guidance{}, shared.ErrGuidanceMalformed
	}
	if len([]rune(g.Message)) > maxMessageLength {
		g.Message = string([]rune(g.Message)[:maxMessageLength])
	}
	for _, item := range answer.ActionItems {
		if c := a.clean(item); c != "" {
			g.ActionItems = append(g.ActionItems, c)
		}
		if len(g.ActionItems) == maxActionItems {
			break
		}
	}
	return g, nil
}

func (a *LLMAdapter) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(a.sanitizer.Sanitize(s)))
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func buildPrompt(gctx Context) string {
	var b strings.Builder

	title := gctx.ModuleTitle
	if title == "" {
		title = gctx.ModuleID
	}
	fmt.Fprintf(&b, "Module: %s\n", title)
	fmt.Fprintf(&b, "Completed sessions: %d\n", gctx.CompletedSessions)
	fmt.Fprintf(&b, "Current streak: %d days\n", gctx.Streak)
	fmt.Fprintf(&b, "Module progress: %d%%\n", gctx.OverallProgress)
	fmt.Fprintf(&b, "Credits earned this session: %d\n", gctx.CreditsEarned)
	if gctx.DurationMinutes > 0 {
		fmt.Fprintf(&b, "Session duration: %.1f minutes\n", gctx.DurationMinutes)
	}
	if gctx.Certified {
		b.WriteString("The learner just earned this module's certification.\n")
	}

	if len(gctx.Metrics) > 0 {
		b.WriteString("Exercise metrics:\n")
		exercises := make([]string, 0, len(gctx.Metrics))
		for ex := range gctx.Metrics {
			exercises = append(exercises, ex)
		}
		sort.Strings(exercises)
		for _, ex := range exercises {
			names := make([]string, 0, len(gctx.Metrics[ex]))
			for name := range gctx.Metrics[ex] {
				names = append(names, name)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, name := range names {
				parts = append(parts, fmt.Sprintf("%s=%g", name, gctx.Metrics[ex][name]))
			}
			fmt.Fprintf(&b, "- %s: %s\n", ex, strings.Join(parts, ", "))
		}
	}

	b.WriteString("Suggest what the learner should focus on next.")
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE GATE
// ══════════════════════════════════════════════════════════════════════════════

// FlagChecker reports whether a feature is on for a user.
type FlagChecker interface {
	IsEnabled(feature, userID string) bool
}

// GatedAdapter routes to Next only for users the feature flag admits.
type GatedAdapter struct {
	Flags   FlagChecker
	Feature string
	Next    Adapter
}

// GetGuidance implements Adapter.
func (g GatedAdapter) GetGuidance(ctx context.Context, userID string, gctx Context) Guidance {
	if g.Next == nil || g.Flags == nil || !g.Flags.IsEnabled(g.Feature, userID) {
		return Fallback()
	}
	return g.Next.GetGuidance(ctx, userID, gctx)
}
