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

const (
	defaultClaudeModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicDriver implements Driver against the Anthropic Messages API via
// net/http, matching the host stack's style of talking to model providers
// directly rather than through a vendor SDK.
type AnthropicDriver struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	maxRetries   int
}

type AnthropicOption func(*AnthropicDriver)

func WithAnthropicModel(model string) AnthropicOption {
	return func(d *AnthropicDriver) { d.defaultModel = model }
}

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(d *AnthropicDriver) {
		if url != "" {
			d.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func NewAnthropicDriver(apiKey string, opts ...AnthropicOption) *AnthropicDriver {
	d := &AnthropicDriver{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultClaudeModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   3,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *AnthropicDriver) Name() string        { return "anthropic" }
func (d *AnthropicDriver) DefaultModel() string { return d.defaultModel }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *AnthropicDriver) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}

	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "tool" {
			role = "user" // Anthropic's Messages API folds tool results into user turns
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  msgs,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("driver: marshal anthropic request: %w", err)
	}

	var resp *anthropicResponse
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
		return nil, fmt.Errorf("driver: anthropic error: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	return &ChatResponse{
		Content:      text.String(),
		FinishReason: resp.StopReason,
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (d *AnthropicDriver) doRequest(ctx context.Context, body []byte) (*anthropicResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("driver: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

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
		return nil, fmt.Errorf("driver: anthropic server error %d: %s", httpResp.StatusCode, data)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("driver: decode response: %w", err)
	}
	return &resp, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
