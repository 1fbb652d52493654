package agent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/taskloom/taskloom/loom/agent/adapters"
	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/agent/tools"
	"github.com/taskloom/taskloom/loom/config"
	"github.com/taskloom/taskloom/loom/tasks"
)

// Factory creates and wires runtime components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB
	store  *tasks.Store
	logger zerolog.Logger
}

// NewFactory creates a runtime factory.
func NewFactory(cfg *config.Config, db *sql.DB, store *tasks.Store, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, store: store, logger: logger}
}

// CreateRuntime builds a fully wired runtime from config.
func (f *Factory) CreateRuntime() (*Runtime, error) {
	engine, err := f.createEngine()
	if err != nil {
		return nil, err
	}
	manifest, err := f.createManifest()
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Engine:  engine,
		Store:   adapters.NewLibSQLConversationStore(f.db),
		Tasks:   f.store,
		Cache:   f.createCache(),
		Limiter: f.createRateLimiter(),
		Tracer:  adapters.NewZerologTracer(f.logger),
		Logger:  f.logger,
	}

	cfg := RuntimeConfig{
		HistoryLimit: f.cfg.Agent.HistoryLimit,
		Budget: Budget{
			MaxContextTokens: f.cfg.Agent.MaxContextTokens,
			MinRecentTurns:   f.cfg.Agent.MinRecentTurns,
		},
		Options: ports.Options{
			MaxTokens:   f.cfg.Engine.MaxTokens,
			Temperature: f.cfg.Engine.Temperature,
		},
		Dispatch: DispatchConfig{
			Timeout:    f.cfg.Agent.ToolTimeout,
			RetryCount: f.cfg.Agent.RetryCount,
			BaseDelay:  f.cfg.Agent.RetryBaseDelay,
			MaxDelay:   f.cfg.Agent.RetryMaxDelay,
		},
		ComposeReplies:  f.cfg.Agent.ComposeFinalReply,
		IdempotencyTTL:  int(f.cfg.Cache.TTL.Seconds()),
		BlockedPatterns: f.cfg.Agent.BlockedPatterns,
	}

	return NewRuntime(cfg, deps, manifest), nil
}

func (f *Factory) createManifest() (*Manifest, error) {
	m := NewManifest()
	for _, tool := range tools.All(f.store) {
		if err := m.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Spec().Name, err)
		}
	}
	return m, nil
}

func (f *Factory) createEngine() (ports.ReasoningEngine, error) {
	switch f.cfg.Engine.Provider {
	case "openai":
		engine, err := adapters.NewOpenAIEngine(adapters.OpenAIConfig{
			BaseURL: f.cfg.Engine.BaseURL,
			APIKey:  f.cfg.Engine.APIKey,
			Model:   f.cfg.Engine.Model,
			Timeout: f.cfg.Engine.RequestTimeout,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "llama":
		return adapters.NewLlamaEngine(adapters.LlamaConfig{
			ModelPath:   f.cfg.Engine.ModelPath,
			ContextSize: f.cfg.Engine.ContextSize,
			Threads:     f.cfg.Engine.Threads,
			Timeout:     f.cfg.Engine.RequestTimeout,
		}, f.logger)
	case "none", "":
		return adapters.NewStaticEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", f.cfg.Engine.Provider)
	}
}

func (f *Factory) createCache() ports.Cache {
	switch f.cfg.Cache.Backend {
	case "lru":
		return adapters.NewLRUCache(f.cfg.Cache.Capacity)
	case "redis":
		return adapters.NewRedisCache(adapters.RedisConfig{
			Addr:     f.cfg.Cache.RedisAddr,
			Password: f.cfg.Cache.RedisPassword,
			DB:       f.cfg.Cache.RedisDB,
		}, f.logger)
	default:
		return noOpCache{}
	}
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.RateLimit.Enabled {
		return noOpLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.RateLimit.Capacity, f.cfg.RateLimit.RefillRate)
}

// noOpCache disables memoization.
type noOpCache struct{}

func (noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }

func (noOpCache) Set(ctx context.Context, key string, value []byte, ttl int) error { return nil }

func (noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpLimiter admits everything.
type noOpLimiter struct{}

func (noOpLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer drops spans and events.
type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = noOpCache{}
	_ ports.RateLimiter = noOpLimiter{}
	_ ports.Tracer      = noOpTracer{}
)
