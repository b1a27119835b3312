// Package provider defines the boundary with the language-model provider:
// an ordered message history in provider-neutral form, tool definitions
// with schemas, and a tool-choice constraint go in; an incremental stream
// of text fragments, tool-call announcements, and a terminal finish reason
// comes back. Any provider offering this shape is substitutable.
package provider

import (
	"context"
	"encoding/json"
)

type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

type Request struct {
	Model string

	Messages []Message
	Tools    []ToolDefinition

	// ToolChoice constrains the model's tool use for this call:
	// "auto" (or empty), "none", "required", or "tool" with Name set.
	ToolChoice ToolChoice

	MaxTokens   *int
	Temperature *float32
}

type ToolChoice struct {
	Kind string
	Name string
}

type Response struct {
	Message      Message
	Usage        Usage
	FinishReason FinishReason
}

// Stream yields incremental deltas of one model call. Final returns the
// complete response once Next has returned false without error.
type Stream interface {
	Next() bool
	Delta() Delta
	Final() *Response
	Err() error
	Close() error
}

type FinishReason string

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role
	Content []ContentPart

	// ToolCallID associates a tool result message (role=tool) with the
	// prior tool call it resolves.
	ToolCallID string
}

type ContentPart interface {
	isContentPart()
}

type TextPart struct{ Text string }

func (TextPart) isContentPart() {}

type ToolCallPart struct {
	ID   string
	Name string
	Args json.RawMessage
}

func (ToolCallPart) isContentPart() {}

type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

type Delta struct {
	Text      string
	ToolCalls []ToolCallDelta
}

type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	// ArgumentsDelta is a fragment of the JSON arguments string; it is not
	// guaranteed to be valid JSON by itself.
	ArgumentsDelta string
}

// Text is a convenience constructor for a single-text-part message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{TextPart{Text: text}}}
}

// ToolResult builds a tool result message for a prior call.
func ToolResult(toolCallID string, payload json.RawMessage) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: toolCallID,
		Content:    []ContentPart{TextPart{Text: string(payload)}},
	}
}

// ExtractToolCalls returns the tool call parts of a message in order.
func ExtractToolCalls(m Message) []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Content {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

func AddUsage(a, b Usage) Usage {
	return Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
