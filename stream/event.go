// Package stream defines the event protocol between the loop engine and a
// remote client: an append-only sequence of self-contained events describing
// every observable change to the in-progress assistant message.
package stream

import (
	"encoding/json"
	"fmt"
)

// Event is a tagged union. Concrete types: TextDelta, ToolInputAvailable,
// ToolOutputAvailable, ToolOutputError, Finish, Failure.
type Event interface {
	eventType() string
}

// TextDelta appends a text fragment to the assistant message's text part.
type TextDelta struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

func (TextDelta) eventType() string { return "text-delta" }

// ToolInputAvailable announces a recognized tool call.
type ToolInputAvailable struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

func (ToolInputAvailable) eventType() string { return "tool-input-available" }

// ToolOutputAvailable resolves a previously announced call. It is never
// emitted before the ToolInputAvailable event with the same ToolCallID.
type ToolOutputAvailable struct {
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

func (ToolOutputAvailable) eventType() string { return "tool-output-available" }

// ToolOutputError marks a call as failed (schema validation or executor
// failure). The turn continues; only this call is affected.
type ToolOutputError struct {
	ToolCallID string `json:"toolCallId"`
	ErrorText  string `json:"errorText"`
}

func (ToolOutputError) eventType() string { return "tool-output-error" }

// Finish terminates the stream with the turn's final status.
type Finish struct {
	Status       string `json:"status"` // paused | finished | failed
	FinishReason string `json:"finishReason,omitempty"`
}

func (Finish) eventType() string { return "finish" }

// Failure reports a turn-level provider or transport failure.
type Failure struct {
	ErrorText string `json:"errorText"`
}

func (Failure) eventType() string { return "error" }

// Marshal encodes an event as a single JSON object carrying its type tag.
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(ev.eventType())
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return []byte(`{"type":` + string(tag) + `}`), nil
	}
	out := append([]byte(`{"type":`+string(tag)+`,`), body[1:]...)
	return out, nil
}

// Unmarshal decodes one event from its JSON form.
func Unmarshal(data []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case "text-delta":
		var ev TextDelta
		err := json.Unmarshal(data, &ev)
		return ev, err
	case "tool-input-available":
		var ev ToolInputAvailable
		err := json.Unmarshal(data, &ev)
		return ev, err
	case "tool-output-available":
		var ev ToolOutputAvailable
		err := json.Unmarshal(data, &ev)
		return ev, err
	case "tool-output-error":
		var ev ToolOutputError
		err := json.Unmarshal(data, &ev)
		return ev, err
	case "finish":
		var ev Finish
		err := json.Unmarshal(data, &ev)
		return ev, err
	case "error":
		var ev Failure
		err := json.Unmarshal(data, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
