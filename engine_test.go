package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/promptlane/agentloop/provider"
	"github.com/promptlane/agentloop/stream"
)

var citySchema = json.RawMessage(`{
	"type": "object",
	"properties": {"city": {"type": "string"}},
	"required": ["city"],
	"additionalProperties": false
}`)

// testTools builds the registry used across engine tests: weather resolves
// on the server, add requires a human-supplied result, boom always fails.
func testTools(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	defs := []ToolDefinition{
		{
			Name:        "weather",
			Description: "Get the weather for a city.",
			InputSchema: citySchema,
			Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
				var in struct {
					City string `json:"city"`
				}
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, err
				}
				return map[string]string{"city": in.City, "condition": "sunny"}, nil
			},
		},
		{
			Name:        "add",
			Description: "Add two numbers; the user confirms the result.",
			InputSchema: addSchema,
		},
		{
			Name:        "boom",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
				return nil, fmt.Errorf("backend unavailable")
			},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func newTestEngine(t *testing.T, prov provider.Provider, mutate func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Provider: prov,
		Model:    "test-model",
		Registry: testTools(t),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func drain(t *testing.T, run *Run) []stream.Event {
	t.Helper()
	var events []stream.Event
	for run.Next() {
		events = append(events, run.Event())
	}
	return events
}

// assertCallOrdering checks that no tool output event precedes the input
// event with the same call id within the stream.
func assertCallOrdering(t *testing.T, events []stream.Event) {
	t.Helper()
	announced := map[string]bool{}
	for i, ev := range events {
		switch e := ev.(type) {
		case stream.ToolInputAvailable:
			announced[e.ToolCallID] = true
		case stream.ToolOutputAvailable:
			if !announced[e.ToolCallID] {
				t.Fatalf("event %d: output for %q before its input", i, e.ToolCallID)
			}
		case stream.ToolOutputError:
			if !announced[e.ToolCallID] {
				t.Fatalf("event %d: error for %q before its input", i, e.ToolCallID)
			}
		}
	}
}

func TestEngine_TextTurnFinishes(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{deltas: []string{"Hello, ", "world."}, final: textFinal("Hello, world.")}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("hi")})
	events := drain(t, run)

	if run.Status() != StatusFinished || run.FinishReason() != FinishStop {
		t.Fatalf("status=%s reason=%s, want finished/stop", run.Status(), run.FinishReason())
	}
	if got := run.Message().Text(); got != "Hello, world." {
		t.Fatalf("text=%q", got)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 2 deltas + finish", len(events))
	}
	if _, ok := events[0].(stream.TextDelta); !ok {
		t.Fatalf("events[0]=%T, want TextDelta", events[0])
	}
	fin, ok := events[len(events)-1].(stream.Finish)
	if !ok || fin.Status != "finished" {
		t.Fatalf("last event %#v, want Finish finished", events[len(events)-1])
	}
}

func TestEngine_FinalOnlyTextReflected(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{final: textFinal("All at once.")}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("hi")})
	events := drain(t, run)

	if got := run.Message().Text(); got != "All at once." {
		t.Fatalf("text=%q", got)
	}
	deltas := 0
	for _, ev := range events {
		if _, ok := ev.(stream.TextDelta); ok {
			deltas++
		}
	}
	if deltas != 1 {
		t.Fatalf("got %d text deltas, want exactly 1", deltas)
	}
}

func TestEngine_StepBudgetTerminates(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		// Never stops calling tools on its own.
		return fakeTurn{final: toolCallFinal(provider.ToolCallPart{
			ID:   fmt.Sprintf("call_%d", call),
			Name: "weather",
			Args: json.RawMessage(`{"city":"paris"}`),
		})}
	}}
	engine := newTestEngine(t, prov, func(cfg *EngineConfig) { cfg.MaxSteps = 3 })

	run := engine.Run(context.Background(), []Message{UserMessage("weather everywhere")})
	events := drain(t, run)

	if run.Status() != StatusFinished || run.FinishReason() != FinishMaxSteps {
		t.Fatalf("status=%s reason=%s, want finished/max-steps", run.Status(), run.FinishReason())
	}
	if prov.callCount() != 3 {
		t.Fatalf("provider called %d times, want exactly 3", prov.callCount())
	}
	if len(run.Steps()) != 3 {
		t.Fatalf("got %d steps", len(run.Steps()))
	}
	assertCallOrdering(t, events)
}

func TestEngine_PausesOnConfirmationTool(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{final: toolCallFinal(provider.ToolCallPart{
			ID:   "call_add_1",
			Name: "add",
			Args: json.RawMessage(`{"a":2,"b":3}`),
		})}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("what is 2+3?")})
	events := drain(t, run)

	if run.Status() != StatusPaused || run.FinishReason() != FinishPending {
		t.Fatalf("status=%s reason=%s, want paused/pending-tool-calls", run.Status(), run.FinishReason())
	}
	if prov.callCount() != 1 {
		t.Fatalf("provider called %d times after pause, want 1", prov.callCount())
	}

	pending := run.PendingToolCalls()
	if len(pending) != 1 || pending["call_add_1"].Name != "add" {
		t.Fatalf("pending=%#v", pending)
	}

	parts := run.Message().ToolParts()
	if len(parts) != 1 {
		t.Fatalf("got %d tool parts", len(parts))
	}
	if parts[0].State != ToolInputAvailable || len(parts[0].Output) != 0 {
		t.Fatalf("tool part %#v, want input-available with no output", parts[0])
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want input + finish", len(events))
	}
	if _, ok := events[0].(stream.ToolInputAvailable); !ok {
		t.Fatalf("events[0]=%T", events[0])
	}
	fin, ok := events[1].(stream.Finish)
	if !ok || fin.Status != "paused" {
		t.Fatalf("events[1]=%#v, want Finish paused", events[1])
	}
}

func pausedConversation(t *testing.T) []Message {
	t.Helper()
	return []Message{
		UserMessage("what is 2+3?"),
		{
			ID:   "msg_paused",
			Role: RoleAssistant,
			Parts: []Part{ToolPart{
				ToolCallID: "call_add_1",
				ToolName:   "add",
				Input:      json.RawMessage(`{"a":2,"b":3}`),
				State:      ToolInputAvailable,
			}},
		},
	}
}

func TestEngine_ResumeWithSuppliedResult(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{deltas: []string{"The sum is 5."}, final: textFinal("The sum is 5.")}
	}}
	engine := newTestEngine(t, prov, nil)

	result, err := ToolResultMessage("call_add_1", "add", 5)
	if err != nil {
		t.Fatal(err)
	}
	messages := append(pausedConversation(t), result)

	run := engine.Run(context.Background(), messages)
	events := drain(t, run)

	if run.Status() != StatusFinished || run.FinishReason() != FinishStop {
		t.Fatalf("status=%s reason=%s", run.Status(), run.FinishReason())
	}

	// The supplied result resolves before any model call.
	out, ok := events[0].(stream.ToolOutputAvailable)
	if !ok || out.ToolCallID != "call_add_1" {
		t.Fatalf("events[0]=%#v, want output for call_add_1", events[0])
	}

	msg := run.Message()
	if msg.ID != "msg_paused" {
		t.Fatalf("assistant id=%q, resume must continue the paused message", msg.ID)
	}
	parts := msg.ToolParts()
	if len(parts) != 1 || parts[0].State != ToolOutputAvailable || string(parts[0].Output) != "5" {
		t.Fatalf("tool part %#v", parts[0])
	}
	if msg.Text() != "The sum is 5." {
		t.Fatalf("text=%q", msg.Text())
	}

	// Step counting is cumulative across the pause.
	if prov.callCount() != 1 {
		t.Fatalf("provider called %d times", prov.callCount())
	}
	steps := run.Steps()
	if len(steps) != 1 || steps[0].StepNumber != 2 {
		t.Fatalf("steps=%#v, want one step numbered 2", steps)
	}

	// The provider sees the supplied result as a tool message.
	hist := prov.request(0).Messages
	last := hist[len(hist)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "call_add_1" {
		t.Fatalf("last history message %#v", last)
	}
}

func TestEngine_ResumeWithoutResultPausesAgain(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		t.Fatal("provider must not be called while a tool call is unresolved")
		return fakeTurn{}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), pausedConversation(t))
	events := drain(t, run)

	if run.Status() != StatusPaused {
		t.Fatalf("status=%s, want paused", run.Status())
	}
	if len(run.PendingToolCalls()) != 1 {
		t.Fatalf("pending=%#v", run.PendingToolCalls())
	}
	if len(events) != 1 {
		t.Fatalf("events=%#v, want just the finish marker", events)
	}
}

func TestEngine_StepBudgetCountsPriorExchanges(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		t.Fatal("budget exhausted, provider must not be called")
		return fakeTurn{}
	}}
	engine := newTestEngine(t, prov, func(cfg *EngineConfig) { cfg.MaxSteps = 1 })

	result, err := ToolResultMessage("call_add_1", "add", 5)
	if err != nil {
		t.Fatal(err)
	}
	run := engine.Run(context.Background(), append(pausedConversation(t), result))
	drain(t, run)

	if run.Status() != StatusFinished || run.FinishReason() != FinishMaxSteps {
		t.Fatalf("status=%s reason=%s, want finished/max-steps", run.Status(), run.FinishReason())
	}
}

func TestEngine_InvalidInputContainedToCall(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		if call == 0 {
			return fakeTurn{final: toolCallFinal(
				provider.ToolCallPart{ID: "c1", Name: "weather", Args: json.RawMessage(`{"city":42}`)},
				provider.ToolCallPart{ID: "c2", Name: "weather", Args: json.RawMessage(`{"city":"paris"}`)},
			)}
		}
		return fakeTurn{deltas: []string{"Done."}, final: textFinal("Done.")}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("weather")})
	events := drain(t, run)

	if run.Status() != StatusFinished || run.FinishReason() != FinishStop {
		t.Fatalf("status=%s reason=%s, a bad call must not end the turn", run.Status(), run.FinishReason())
	}
	assertCallOrdering(t, events)

	var errEv *stream.ToolOutputError
	for _, ev := range events {
		if e, ok := ev.(stream.ToolOutputError); ok {
			errEv = &e
		}
	}
	if errEv == nil || errEv.ToolCallID != "c1" {
		t.Fatalf("missing output-error for c1, events=%#v", events)
	}

	byID := map[string]ToolPart{}
	for _, tp := range run.Message().ToolParts() {
		byID[tp.ToolCallID] = tp
	}
	if byID["c1"].State != ToolOutputError || byID["c1"].ErrorText == "" {
		t.Fatalf("c1 part %#v", byID["c1"])
	}
	if byID["c2"].State != ToolOutputAvailable {
		t.Fatalf("c2 part %#v", byID["c2"])
	}

	// Both calls get tool results in the follow-up request, the bad one as
	// an error payload.
	results := map[string]string{}
	for _, m := range prov.request(1).Messages {
		if m.Role == provider.RoleTool {
			results[m.ToolCallID] = firstTextContent(m)
		}
	}
	if len(results) != 2 {
		t.Fatalf("follow-up request has %d tool results, want 2", len(results))
	}
	if !strings.Contains(results["c1"], "error") {
		t.Fatalf("c1 result %q, want error payload", results["c1"])
	}
}

func TestEngine_ExecutorErrorContained(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		if call == 0 {
			return fakeTurn{final: toolCallFinal(provider.ToolCallPart{
				ID: "c1", Name: "boom", Args: json.RawMessage(`{}`),
			})}
		}
		return fakeTurn{deltas: []string{"Could not reach the backend."}, final: textFinal("Could not reach the backend.")}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("boom")})
	drain(t, run)

	if run.Status() != StatusFinished {
		t.Fatalf("status=%s, executor failure must not abort the turn", run.Status())
	}
	parts := run.Message().ToolParts()
	if len(parts) != 1 || parts[0].State != ToolOutputError {
		t.Fatalf("parts=%#v", parts)
	}
	if !strings.Contains(parts[0].ErrorText, "backend unavailable") {
		t.Fatalf("errorText=%q", parts[0].ErrorText)
	}
}

func TestEngine_UnknownToolFailsTurn(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{final: toolCallFinal(provider.ToolCallPart{
			ID: "c1", Name: "bogus", Args: json.RawMessage(`{}`),
		})}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("hi")})
	events := drain(t, run)

	if run.Status() != StatusFailed || run.FinishReason() != FinishError {
		t.Fatalf("status=%s reason=%s, want failed/error", run.Status(), run.FinishReason())
	}
	if !IsUnknownTool(run.Err()) {
		t.Fatalf("err=%v, want UnknownToolError", run.Err())
	}
	fin, ok := events[len(events)-1].(stream.Finish)
	if !ok || fin.Status != "failed" {
		t.Fatalf("last event %#v", events[len(events)-1])
	}
	if run.Message().Text() == "" {
		t.Fatal("failed turn must still carry an explanatory text part")
	}
}

func TestEngine_ProviderErrorFailsTurn(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{streamErr: &provider.Error{
			Provider: "openai", Status: 429, Code: "rate_limit_exceeded",
			Message: "slow down", Retryable: true,
		}}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), []Message{UserMessage("hi")})
	events := drain(t, run)

	if run.Status() != StatusFailed {
		t.Fatalf("status=%s", run.Status())
	}
	var failure *stream.Failure
	for _, ev := range events {
		if e, ok := ev.(stream.Failure); ok {
			failure = &e
		}
	}
	if failure == nil || !strings.Contains(failure.ErrorText, "slow down") {
		t.Fatalf("failure=%#v", failure)
	}
	if !strings.Contains(run.Message().Text(), "could not be completed") {
		t.Fatalf("text=%q", run.Message().Text())
	}
}

func TestEngine_PlannerDrivesToolChoice(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		if call == 0 {
			return fakeTurn{final: toolCallFinal(provider.ToolCallPart{
				ID: "c1", Name: "weather", Args: json.RawMessage(`{"city":"oslo"}`),
			})}
		}
		return fakeTurn{deltas: []string{"Sunny in Oslo."}, final: textFinal("Sunny in Oslo.")}
	}}
	engine := newTestEngine(t, prov, func(cfg *EngineConfig) {
		cfg.Planner = SequencePlanner{Sequence: []string{"weather"}}
	})

	run := engine.Run(context.Background(), []Message{UserMessage("weather in oslo")})
	drain(t, run)

	first := prov.request(0).ToolChoice
	if first.Kind != "tool" || first.Name != "weather" {
		t.Fatalf("step 1 tool choice %#v, want forced weather", first)
	}
	second := prov.request(1).ToolChoice
	if second.Kind != "auto" {
		t.Fatalf("step 2 tool choice %#v, want auto once the sequence is satisfied", second)
	}
}

func TestEngine_EmptyInputFails(t *testing.T) {
	prov := &fakeProvider{script: func(call int, req provider.Request) fakeTurn {
		return fakeTurn{}
	}}
	engine := newTestEngine(t, prov, nil)

	run := engine.Run(context.Background(), nil)
	drain(t, run)

	if run.Status() != StatusFailed {
		t.Fatalf("status=%s", run.Status())
	}
	if prov.callCount() != 0 {
		t.Fatal("provider must not be called for an empty conversation")
	}
}

func firstTextContent(m provider.Message) string {
	for _, p := range m.Content {
		if tp, ok := p.(provider.TextPart); ok {
			return tp.Text
		}
	}
	return ""
}
