//go:build !llama || no_llama

package adapters

import (
	"fmt"

	"github.com/rs/zerolog"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// NewLlamaEngine reports that local inference is unavailable in this
// build (no-op for non-CGO). Build with -tags llama to enable it.
func NewLlamaEngine(cfg LlamaConfig, logger zerolog.Logger) (ports.ReasoningEngine, error) {
	return nil, fmt.Errorf("llama engine not available: built without the llama tag")
}
