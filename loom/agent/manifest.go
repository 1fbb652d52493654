package agent

import (
	"fmt"
	"sync"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// Manifest is the closed registry of callable tools: name → (schema,
// handler). It is resolved ahead of time, so unknown or malformed tool
// names fail validation instead of being executed speculatively.
type Manifest struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
	order []string
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{tools: make(map[string]ports.Tool)}
}

// Register adds a tool. Duplicate names are a wiring bug.
func (m *Manifest) Register(tool ports.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := tool.Spec().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := m.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	m.tools[name] = tool
	m.order = append(m.order, name)
	return nil
}

// Get returns the named tool.
func (m *Manifest) Get(name string) (ports.Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[name]
	return tool, ok
}

// Specs returns all tool specs in registration order, for the engine.
func (m *Manifest) Specs() []ports.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	specs := make([]ports.ToolSpec, 0, len(m.order))
	for _, name := range m.order {
		specs = append(specs, m.tools[name].Spec())
	}
	return specs
}

// Len returns the number of registered tools.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tools)
}
