package agentloop

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolState is the life-cycle state of a ToolPart.
//
// Success path: input-streaming -> input-available -> output-available.
// Failure path: input-available -> output-error.
type ToolState string

const (
	ToolInputStreaming  ToolState = "input-streaming"
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// Message is one entry in the conversation log. Parts are mutated in place
// only while the message is the current streaming assistant message; once a
// new message begins, prior messages are immutable.
type Message struct {
	ID    string
	Role  Role
	Parts []Part
}

type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ToolPart represents one tool call and its eventual result. ToolCallID is
// unique per call across the whole conversation.
type ToolPart struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	State      ToolState
	Output     json.RawMessage
	ErrorText  string
}

func (ToolPart) isPart() {}

func NewMessageID() string {
	return uuid.NewString()
}

func UserMessage(text string) Message {
	return Message{
		ID:    NewMessageID(),
		Role:  RoleUser,
		Parts: []Part{TextPart{Text: text}},
	}
}

// ToolResultMessage carries a human-supplied result for a pending tool call
// back into the loop. It is a tool message, not a user text message.
func ToolResultMessage(toolCallID, toolName string, output any) (Message, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return Message{}, fmt.Errorf("marshal tool result: %w", err)
	}
	return Message{
		ID:   NewMessageID(),
		Role: RoleTool,
		Parts: []Part{ToolPart{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Output:     raw,
			State:      ToolOutputAvailable,
		}},
	}, nil
}

// Text returns the concatenated text content of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolParts returns the tool parts of the message in order.
func (m Message) ToolParts() []ToolPart {
	var out []ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}

// Clone returns a deep-enough copy: the parts slice is copied so the clone
// can be appended to without aliasing the original.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]Part(nil), m.Parts...)
	return out
}

// Wire representation. Parts are a tagged union keyed by an explicit kind
// field ("text" or "tool"); tool parts are never discriminated by
// string-prefixed type names.

type messageJSON struct {
	ID    string     `json:"id"`
	Role  Role       `json:"role"`
	Parts []partJSON `json:"parts"`
}

type partJSON struct {
	Kind string `json:"kind"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{ID: m.ID, Role: m.Role, Parts: make([]partJSON, 0, len(m.Parts))}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			out.Parts = append(out.Parts, partJSON{Kind: "text", Text: v.Text})
		case ToolPart:
			out.Parts = append(out.Parts, partJSON{
				Kind:       "tool",
				ToolCallID: v.ToolCallID,
				ToolName:   v.ToolName,
				Input:      v.Input,
				State:      v.State,
				Output:     v.Output,
				ErrorText:  v.ErrorText,
			})
		default:
			return nil, fmt.Errorf("unsupported part %T", p)
		}
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	msg := Message{ID: raw.ID, Role: raw.Role}
	for _, p := range raw.Parts {
		switch p.Kind {
		case "text":
			msg.Parts = append(msg.Parts, TextPart{Text: p.Text})
		case "tool":
			msg.Parts = append(msg.Parts, ToolPart{
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName,
				Input:      p.Input,
				State:      p.State,
				Output:     p.Output,
				ErrorText:  p.ErrorText,
			})
		default:
			return fmt.Errorf("unknown part kind %q", p.Kind)
		}
	}
	*m = msg
	return nil
}
