package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIModel = "gpt-4.1-mini"

// OpenAIDriver implements Driver against any OpenAI-compatible chat
// completions endpoint (OpenAI itself, OpenRouter, Groq, DeepSeek, ...),
// following the same net/http + manual retry approach as AnthropicDriver.
type OpenAIDriver struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	maxRetries   int
}

// NewOpenAIDriver returns a driver for name (used only for Name()/logging)
// talking to apiBase (defaults to api.openai.com).
func NewOpenAIDriver(name, apiKey, apiBase, defaultModel string) *OpenAIDriver {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = defaultOpenAIModel
	}
	return &OpenAIDriver{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   3,
	}
}

func (d *OpenAIDriver) Name() string         { return d.name }
func (d *OpenAIDriver) DefaultModel() string { return d.defaultModel }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChoice struct {
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *OpenAIDriver) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}

	msgs := make([]openAIChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openAIChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(openAIChatRequest{Model: model, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("driver: marshal openai request: %w", err)
	}

	var resp *openAIChatResponse
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		resp, lastErr = d.doRequest(ctx, body)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("driver: %s error: %s", d.name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("driver: %s returned no choices", d.name)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (d *OpenAIDriver) doRequest(ctx context.Context, body []byte) (*openAIChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("driver: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("driver: do request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("driver: read response: %w", err)
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("driver: %s server error %d: %s", d.name, httpResp.StatusCode, data)
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("driver: decode response: %w", err)
	}
	return &resp, nil
}
