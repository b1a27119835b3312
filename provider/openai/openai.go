// Package openai implements the provider boundary against any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/promptlane/agentloop/internal/httpx"
	"github.com/promptlane/agentloop/provider"
)

type Config struct {
	APIKey  string
	BaseURL string // default https://api.openai.com/v1

	HTTPClient *http.Client
	Headers    map[string]string

	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Provider struct {
	cfg Config
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Provider{cfg: cfg}, nil
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	httpResp, err := p.post(ctx, req, false)
	if err != nil {
		return provider.Response{}, err
	}
	defer httpResp.Body.Close()

	var out chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return provider.Response{}, &provider.Error{Provider: "openai", Code: "decode_error", Message: err.Error(), Cause: err}
	}
	if len(out.Choices) == 0 {
		return provider.Response{}, &provider.Error{Provider: "openai", Code: "invalid_response", Message: "response has no choices"}
	}
	c := out.Choices[0]

	msg, err := fromChatMessage(c.Message)
	if err != nil {
		return provider.Response{}, &provider.Error{Provider: "openai", Code: "invalid_response", Message: err.Error(), Cause: err}
	}

	return provider.Response{
		Message: msg,
		Usage: provider.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		FinishReason: provider.FinishReason(c.FinishReason),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	httpResp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newStream(httpResp), nil
}

func (p *Provider) post(ctx context.Context, req provider.Request, streaming bool) (*http.Response, error) {
	payload, err := buildRequest(req, streaming)
	if err != nil {
		return nil, &provider.Error{Provider: "openai", Code: "request_error", Message: err.Error(), Cause: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &provider.Error{Provider: "openai", Code: "marshal_error", Message: err.Error(), Cause: err}
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions")
	if err != nil {
		return nil, &provider.Error{Provider: "openai", Code: "url_error", Message: err.Error(), Cause: err}
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if streaming {
		h.Set("Accept", "text/event-stream")
	}
	for k, v := range p.cfg.Headers {
		h.Set(k, v)
	}

	httpResp, err := httpx.DoJSON(ctx, p.cfg.HTTPClient, http.MethodPost, u.String(), body, h, httpx.RetryPolicy{
		MaxRetries: p.cfg.MaxRetries,
		MinBackoff: p.cfg.MinBackoff,
		MaxBackoff: p.cfg.MaxBackoff,
	})
	if err != nil {
		code, retryable := classifyNetworkErr(err)
		return nil, &provider.Error{Provider: "openai", Code: code, Message: err.Error(), Retryable: retryable, Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		var er errorResponse
		if json.Unmarshal(b, &er) == nil && er.Error.Message != "" {
			return nil, &provider.Error{
				Provider:  "openai",
				Code:      stringifyCode(er.Error.Code, er.Error.Type),
				Status:    httpResp.StatusCode,
				Message:   er.Error.Message,
				Retryable: httpx.ShouldRetryStatus(httpResp.StatusCode),
			}
		}
		return nil, &provider.Error{
			Provider:  "openai",
			Code:      "http_error",
			Status:    httpResp.StatusCode,
			Message:   strings.TrimSpace(string(b)),
			Retryable: httpx.ShouldRetryStatus(httpResp.StatusCode),
		}
	}
	return httpResp, nil
}

func buildRequest(req provider.Request, streaming bool) (chatCompletionRequest, error) {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		cm, err := toChatMessage(m)
		if err != nil {
			return chatCompletionRequest{}, err
		}
		msgs = append(msgs, cm)
	}

	var tools []tool
	for _, t := range req.Tools {
		if t.Name == "" {
			return chatCompletionRequest{}, fmt.Errorf("tool name is required")
		}
		tools = append(tools, tool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	out := chatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      streaming,
	}
	switch req.ToolChoice.Kind {
	case "", "auto":
	case "none", "required":
		out.ToolChoice = req.ToolChoice.Kind
	case "tool":
		if req.ToolChoice.Name == "" {
			return chatCompletionRequest{}, fmt.Errorf("tool choice requires a tool name")
		}
		out.ToolChoice = namedToolChoice{
			Type:     "function",
			Function: namedToolChoiceFunc{Name: req.ToolChoice.Name},
		}
	default:
		return chatCompletionRequest{}, fmt.Errorf("unsupported tool choice %q", req.ToolChoice.Kind)
	}
	if streaming {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out, nil
}

func toChatMessage(m provider.Message) (chatMessage, error) {
	role := string(m.Role)
	if role == "" {
		return chatMessage{}, fmt.Errorf("message role is required")
	}

	var b strings.Builder
	var toolCalls []toolCall
	for _, p := range m.Content {
		switch v := p.(type) {
		case provider.TextPart:
			b.WriteString(v.Text)
		case provider.ToolCallPart:
			toolCalls = append(toolCalls, toolCall{
				ID:   v.ID,
				Type: "function",
				Function: toolCallFn{
					Name:      v.Name,
					Arguments: string(v.Args),
				},
			})
		default:
			return chatMessage{}, fmt.Errorf("unsupported content part %T", p)
		}
	}

	content := b.String()
	var contentPtr *string
	if content != "" || len(toolCalls) == 0 {
		contentPtr = &content
	}

	cm := chatMessage{
		Role:      role,
		Content:   contentPtr,
		ToolCalls: toolCalls,
	}
	if m.Role == provider.RoleTool {
		if m.ToolCallID == "" {
			return chatMessage{}, fmt.Errorf("tool message missing ToolCallID")
		}
		cm.ToolCallID = m.ToolCallID
	}
	return cm, nil
}

func fromChatMessage(m chatMessage) (provider.Message, error) {
	role := provider.Role(m.Role)
	if role == "" {
		return provider.Message{}, fmt.Errorf("missing role")
	}
	var parts []provider.ContentPart
	if m.Content != nil && *m.Content != "" {
		parts = append(parts, provider.TextPart{Text: *m.Content})
	}
	for _, tc := range m.ToolCalls {
		if tc.Function.Name == "" {
			return provider.Message{}, fmt.Errorf("tool call missing name")
		}
		parts = append(parts, provider.ToolCallPart{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return provider.Message{Role: role, Content: parts}, nil
}

func stringifyCode(code any, fallback string) string {
	if v, ok := code.(string); ok && v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}

func classifyNetworkErr(err error) (code string, retryable bool) {
	if err == nil {
		return "network_error", false
	}
	if errors.Is(err, context.Canceled) {
		return "canceled", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout", true
	}
	return "network_error", true
}
