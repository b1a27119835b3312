package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptlane/agentloop"
	"github.com/promptlane/agentloop/stream"
)

// Session is a stateful loop client: it holds the conversation log, sends
// turns to the loop endpoint, folds the event stream into the current
// assistant message, and resumes paused turns with human-supplied tool
// results.
type Session struct {
	BaseURL   string
	ProjectID string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	messages []agentloop.Message
}

// TurnResult is the outcome of one request cycle.
type TurnResult struct {
	Message      agentloop.Message
	Status       agentloop.Status
	FinishReason agentloop.FinishReason
	Pending      []agentloop.ToolPart
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []agentloop.Message {
	out := make([]agentloop.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Send appends a user message and runs a turn.
func (s *Session) Send(ctx context.Context, text string) (*TurnResult, error) {
	s.messages = append(s.messages, agentloop.UserMessage(text))
	return s.request(ctx, agentloop.Message{Role: agentloop.RoleAssistant}, false)
}

// Resume answers a pending tool call with a human-supplied output and
// continues the paused turn. The request carries every message up to and
// including the paused assistant message so the engine can reconstruct
// step history.
func (s *Session) Resume(ctx context.Context, toolCallID, toolName string, output any) (*TurnResult, error) {
	result, err := agentloop.ToolResultMessage(toolCallID, toolName, output)
	if err != nil {
		return nil, err
	}
	if len(s.messages) == 0 {
		return nil, fmt.Errorf("nothing to resume")
	}
	s.messages = append(s.messages, result)

	// Continue the paused assistant message rather than starting a new one.
	var seed agentloop.Message
	continuing := false
	if last := s.lastAssistant(); last != nil {
		seed = last.Clone()
		continuing = true
	}
	return s.request(ctx, seed, continuing)
}

func (s *Session) lastAssistant() *agentloop.Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == agentloop.RoleAssistant {
			return &s.messages[i]
		}
	}
	return nil
}

type loopRequest struct {
	Messages  []agentloop.Message `json:"messages"`
	ProjectID string              `json:"projectId,omitempty"`
}

func (s *Session) request(ctx context.Context, current agentloop.Message, continuing bool) (*TurnResult, error) {
	body, err := json.Marshal(loopRequest{Messages: s.messages, ProjectID: s.ProjectID})
	if err != nil {
		return nil, err
	}

	url := s.BaseURL + "/api/loop"
	if s.ProjectID != "" {
		url = s.BaseURL + "/api/loop/project"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loop request failed: status %d", resp.StatusCode)
	}

	result := &TurnResult{Status: agentloop.StatusRunning}

	dec := stream.NewDecoder(resp.Body)
	for dec.Next() {
		ev := dec.Event()
		if fin, ok := ev.(stream.Finish); ok {
			result.Status = agentloop.Status(fin.Status)
			result.FinishReason = agentloop.FinishReason(fin.FinishReason)
			continue
		}
		current, err = ApplyEvent(current, ev)
		if err != nil {
			return nil, err
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	result.Message = current
	result.Pending = PendingToolCalls(current)

	// Commit: on resume the updated assistant message replaces the paused
	// one; otherwise it is appended as a new message.
	if continuing {
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].Role == agentloop.RoleAssistant {
				s.messages[i] = current
				break
			}
		}
	} else {
		s.messages = append(s.messages, current)
	}
	return result, nil
}
