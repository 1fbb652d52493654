package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

const maxErrorBodySize = 4 * 1024

// OpenAIConfig holds the settings for an OpenAI-compatible endpoint.
// Any server speaking the chat-completions dialect works: OpenAI itself,
// vLLM, llama.cpp's server mode, Ollama, and similar.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIEngine calls an OpenAI-compatible chat-completions API and maps
// native tool calls onto proposals. It performs no validation; rejecting
// a proposal is the validator's job.
type OpenAIEngine struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOpenAIEngine creates an engine backed by an OpenAI-compatible API.
func NewOpenAIEngine(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAIEngine, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenAIEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Generate sends one chat-completions request and maps the reply.
func (e *OpenAIEngine) Generate(ctx context.Context, req ports.GenerateRequest) (ports.EngineReply, error) {
	apiReq := e.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return ports.EngineReply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.EngineReply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	e.logger.Debug().
		Str("model", apiReq.Model).
		Int("messages", len(apiReq.Messages)).
		Int("tools", len(apiReq.Tools)).
		Msg("engine request")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return ports.EngineReply{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return ports.EngineReply{}, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(detail))
	}

	var apiResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return ports.EngineReply{}, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return ports.EngineReply{}, fmt.Errorf("no choices in response")
	}

	return mapReply(apiResp), nil
}

func (e *OpenAIEngine) buildRequest(req ports.GenerateRequest) openAIChatRequest {
	apiReq := openAIChatRequest{
		Model:       e.cfg.Model,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		Stop:        req.Options.Stop,
	}

	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
	}

	for _, spec := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(spec.JSONSchema),
			},
		})
	}

	switch choice := req.Options.ToolChoice; choice {
	case "":
		// Leave the server default in place.
	case "auto", "none", "required":
		apiReq.ToolChoice = choice
	default:
		apiReq.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice},
		}
	}

	return apiReq
}

func mapReply(apiResp openAIChatResponse) ports.EngineReply {
	choice := apiResp.Choices[0]
	reply := ports.EngineReply{Text: choice.Message.Content}

	for _, call := range choice.Message.ToolCalls {
		raw, _ := json.Marshal(call)
		reply.Proposals = append(reply.Proposals, ports.ToolCallProposal{
			Name: call.Function.Name,
			Args: json.RawMessage(call.Function.Arguments),
			Raw:  string(raw),
		})
	}

	if apiResp.Usage.TotalTokens > 0 {
		reply.Usage = &ports.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}

	return reply
}

// OpenAI API wire types.
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Ensure OpenAIEngine implements the ReasoningEngine interface.
var _ ports.ReasoningEngine = (*OpenAIEngine)(nil)
