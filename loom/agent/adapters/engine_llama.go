//go:build llama && !no_llama

package adapters

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// LlamaEngine runs a local GGUF model through llama.cpp. One model
// instance serves requests serially; prediction is not reentrant.
type LlamaEngine struct {
	cfg    LlamaConfig
	model  *llama.LLama
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewLlamaEngine loads the model at cfg.ModelPath (llama-specific).
func NewLlamaEngine(cfg LlamaConfig, logger zerolog.Logger) (ports.ReasoningEngine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}

	model, err := llama.New(cfg.ModelPath, llama.SetContext(cfg.ContextSize))
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	logger.Info().
		Str("model_path", cfg.ModelPath).
		Int("context_size", cfg.ContextSize).
		Int("threads", cfg.Threads).
		Msg("llama engine initialized")

	return &LlamaEngine{cfg: cfg, model: model, logger: logger}, nil
}

// Generate renders the request as a ChatML prompt and predicts one reply.
// Tool proposals, if any, ride in the text for the reply parser.
func (e *LlamaEngine) Generate(ctx context.Context, req ports.GenerateRequest) (ports.EngineReply, error) {
	prompt := chatMLPrompt(req)

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Predict does not take a context; checking here bounds queueing
	// behind the lock, not generation itself.
	if err := ctx.Err(); err != nil {
		return ports.EngineReply{}, err
	}

	out, err := e.model.Predict(prompt,
		llama.SetTemperature(req.Options.Temperature),
		llama.SetTokens(maxTokens),
		llama.SetThreads(e.cfg.Threads),
		llama.SetStopWords(chatMLStop),
	)
	if err != nil {
		return ports.EngineReply{}, fmt.Errorf("predict: %w", err)
	}

	return ports.EngineReply{Text: strings.TrimSpace(out)}, nil
}

// Close frees the loaded model.
func (e *LlamaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.Free()
	return nil
}
