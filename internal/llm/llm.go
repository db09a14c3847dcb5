// Package llm is the narrow completion interface every agent talks to, with
// backends for the Anthropic API, the OpenAI API and the claude CLI.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jorge-barreto/patchr/internal/config"
)

// ErrDisabled is returned by New when the provider is "none".
var ErrDisabled = errors.New("llm: provider is none")

// Request is one single-turn completion.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int // 0 uses the backend default
}

// Client completes prompts. Implementations must honor ctx cancellation.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// New builds the client for cfg, rate limited and logged.
func New(cfg config.LLM, logger *zap.Logger) (Client, error) {
	var c Client
	switch cfg.Provider {
	case config.ProviderAnthropic:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("llm: anthropic API key required (llm.api-key or ANTHROPIC_API_KEY)")
		}
		c = NewAnthropic(key, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case config.ProviderOpenAI:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("llm: openai API key required (llm.api-key or OPENAI_API_KEY)")
		}
		c = NewOpenAI(key, "", cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case config.ProviderClaudeCLI:
		c = &ClaudeCLI{Model: cfg.Model}
	case config.ProviderNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if cfg.Rate > 0 {
		c = WithRateLimit(c, cfg.Rate, cfg.Burst)
	}
	if logger != nil {
		c = &logged{next: c, log: logger.With(zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))}
	}
	return c, nil
}

type limited struct {
	next Client
	lim  *rate.Limiter
}

// WithRateLimit wraps c so calls wait for a token from a limiter allowing
// perSecond requests with the given burst.
func WithRateLimit(c Client, perSecond float64, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &limited{next: c, lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return l.next.Complete(ctx, req)
}

type logged struct {
	next Client
	log  *zap.Logger
}

func (l *logged) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := l.next.Complete(ctx, req)
	if err != nil {
		l.log.Warn("completion failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return "", err
	}
	l.log.Debug("completion",
		zap.Int("prompt_bytes", len(req.Prompt)),
		zap.Int("reply_bytes", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
