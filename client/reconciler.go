// Package client consumes a loop event stream and reconstructs the growing
// assistant message, mirroring what the server-side engine builds. State
// transitions are a pure reducer so they can be tested in isolation; the
// mutable current message is held by the caller.
package client

import (
	"fmt"

	"github.com/promptlane/agentloop"
	"github.com/promptlane/agentloop/stream"
)

// ApplyEvent folds one stream event into the current assistant message and
// returns the updated message. The input message is not mutated.
func ApplyEvent(msg agentloop.Message, ev stream.Event) (agentloop.Message, error) {
	out := msg.Clone()

	switch e := ev.(type) {
	case stream.TextDelta:
		if out.ID == "" {
			out.ID = e.MessageID
		}
		for i, p := range out.Parts {
			if tp, ok := p.(agentloop.TextPart); ok {
				tp.Text += e.Delta
				out.Parts[i] = tp
				return out, nil
			}
		}
		out.Parts = append(out.Parts, agentloop.TextPart{Text: e.Delta})
		return out, nil

	case stream.ToolInputAvailable:
		out.Parts = append(out.Parts, agentloop.ToolPart{
			ToolCallID: e.ToolCallID,
			ToolName:   e.ToolName,
			Input:      e.Input,
			State:      agentloop.ToolInputAvailable,
		})
		return out, nil

	case stream.ToolOutputAvailable:
		return resolveToolPart(out, e.ToolCallID, func(tp *agentloop.ToolPart) {
			tp.Output = e.Output
			tp.State = agentloop.ToolOutputAvailable
		})

	case stream.ToolOutputError:
		return resolveToolPart(out, e.ToolCallID, func(tp *agentloop.ToolPart) {
			tp.ErrorText = e.ErrorText
			tp.State = agentloop.ToolOutputError
		})

	case stream.Finish, stream.Failure:
		// Terminal markers carry no message content.
		return out, nil

	default:
		return out, fmt.Errorf("unhandled event %T", ev)
	}
}

func resolveToolPart(msg agentloop.Message, toolCallID string, update func(*agentloop.ToolPart)) (agentloop.Message, error) {
	for i, p := range msg.Parts {
		tp, ok := p.(agentloop.ToolPart)
		if !ok || tp.ToolCallID != toolCallID {
			continue
		}
		update(&tp)
		msg.Parts[i] = tp
		return msg, nil
	}
	return msg, fmt.Errorf("no tool part with call id %q", toolCallID)
}

// PendingToolCalls returns the tool parts awaiting a human decision: stuck
// at input-available with no output once the stream has ended.
func PendingToolCalls(msg agentloop.Message) []agentloop.ToolPart {
	var out []agentloop.ToolPart
	for _, tp := range msg.ToolParts() {
		if tp.State == agentloop.ToolInputAvailable && len(tp.Output) == 0 {
			out = append(out, tp)
		}
	}
	return out
}
