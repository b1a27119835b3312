package agentloop

import (
	"context"
	"sync"

	"github.com/promptlane/agentloop/provider"
)

// fakeTurn scripts one model call: optional text deltas, then either a
// final response or a mid-stream error.
type fakeTurn struct {
	deltas    []string
	final     *provider.Response
	err       error
	streamErr error
}

// fakeProvider answers model calls from a script indexed by call number
// and records every request it sees.
type fakeProvider struct {
	mu       sync.Mutex
	requests []provider.Request
	script   func(call int, req provider.Request) fakeTurn
}

func (p *fakeProvider) record(req provider.Request) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return len(p.requests) - 1
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) request(i int) provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func (p *fakeProvider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	turn := p.script(p.record(req), req)
	if turn.err != nil {
		return provider.Response{}, turn.err
	}
	if turn.streamErr != nil {
		return provider.Response{}, turn.streamErr
	}
	if turn.final == nil {
		return provider.Response{}, nil
	}
	return *turn.final, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	turn := p.script(p.record(req), req)
	if turn.err != nil {
		return nil, turn.err
	}
	return &fakeStream{turn: turn}, nil
}

type fakeStream struct {
	turn fakeTurn
	i    int
}

func (s *fakeStream) Next() bool {
	if s.i < len(s.turn.deltas) {
		s.i++
		return true
	}
	return false
}

func (s *fakeStream) Delta() provider.Delta {
	return provider.Delta{Text: s.turn.deltas[s.i-1]}
}

func (s *fakeStream) Final() *provider.Response {
	if s.turn.streamErr != nil {
		return nil
	}
	return s.turn.final
}

func (s *fakeStream) Err() error   { return s.turn.streamErr }
func (s *fakeStream) Close() error { return nil }

func textFinal(text string) *provider.Response {
	return &provider.Response{Message: provider.Text(provider.RoleAssistant, text)}
}

func toolCallFinal(calls ...provider.ToolCallPart) *provider.Response {
	msg := provider.Message{Role: provider.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, c)
	}
	return &provider.Response{Message: msg}
}
