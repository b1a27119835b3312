package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/promptlane/agentloop/provider"
	"github.com/promptlane/agentloop/stream"
)

// Run is one turn of the loop: a pull iterator over the events produced
// while the engine steps the model. Drive it with Next/Event until Next
// returns false, then inspect Status, Message and PendingToolCalls.
type Run struct {
	ctx      context.Context
	engine   *Engine
	registry *Registry
	logger   *slog.Logger

	input     []Message
	assistant Message

	history    []provider.Message
	priorSteps []Step
	stepOffset int
	steps      []Step
	pending    map[string]ToolCall

	queue []stream.Event
	cur   stream.Event

	curStream    provider.Stream
	curStep      *Step
	stepDeltaLen int

	started      bool
	status       Status
	finishReason FinishReason
	err          error
}

func (r *Run) Next() bool {
	for {
		if len(r.queue) > 0 {
			r.cur = r.queue[0]
			r.queue = r.queue[1:]
			return true
		}
		if r.status != StatusRunning {
			return false
		}
		r.advance()
	}
}

func (r *Run) Event() stream.Event { return r.cur }

// Err reports the error that aborted the turn, if any. A failed turn still
// yields a well-formed assistant message via the event stream.
func (r *Run) Err() error { return r.err }

// Status is the terminal status once Next has returned false.
func (r *Run) Status() Status { return r.status }

func (r *Run) FinishReason() FinishReason { return r.finishReason }

// Message returns the assistant message as built so far. After the run
// ends it is the turn's final output.
func (r *Run) Message() Message { return r.assistant.Clone() }

// PendingToolCalls returns the calls awaiting a human-supplied result,
// keyed by tool call id.
func (r *Run) PendingToolCalls() map[string]ToolCall {
	out := make(map[string]ToolCall, len(r.pending))
	for id, call := range r.pending {
		out[id] = call
	}
	return out
}

// Steps returns the steps executed by this run (not counting steps of
// earlier paused exchanges in the same logical turn).
func (r *Run) Steps() []Step { return append([]Step(nil), r.steps...) }

func (r *Run) Close() error {
	if r.curStream != nil {
		return r.curStream.Close()
	}
	return nil
}

func (r *Run) advance() {
	switch {
	case !r.started:
		r.init()
	case r.curStream == nil:
		r.startStep()
	default:
		r.pumpStream()
	}
}

func (r *Run) init() {
	r.started = true

	if len(r.input) == 0 {
		r.fail(fmt.Errorf("at least one message is required"))
		return
	}

	hist, err := toProviderHistory(r.engine.cfg.SystemPrompt, r.input)
	if err != nil {
		r.fail(err)
		return
	}
	r.history = hist

	lastUser := -1
	lastAssistant := -1
	for i, m := range r.input {
		switch m.Role {
		case RoleUser:
			lastUser = i
		case RoleAssistant:
			lastAssistant = i
		}
	}
	if lastUser == -1 {
		r.fail(fmt.Errorf("conversation has no user message"))
		return
	}

	// Human-supplied results appended after the paused assistant message.
	supplied := map[string]json.RawMessage{}
	if lastAssistant > lastUser {
		for _, m := range r.input[lastAssistant+1:] {
			if m.Role != RoleTool {
				continue
			}
			for _, tp := range m.ToolParts() {
				supplied[tp.ToolCallID] = tp.Output
			}
		}
	}

	if lastAssistant > lastUser && hasUnresolvedCalls(r.input[lastAssistant]) {
		// Resuming a paused turn: continue the paused assistant message and
		// mark supplied results as resolved before any model invocation.
		r.assistant = r.input[lastAssistant].Clone()
		for i, p := range r.assistant.Parts {
			tp, ok := p.(ToolPart)
			if !ok || tp.State != ToolInputAvailable || len(tp.Output) != 0 {
				continue
			}
			out, ok := supplied[tp.ToolCallID]
			if !ok {
				r.pending[tp.ToolCallID] = ToolCall{ID: tp.ToolCallID, Name: tp.ToolName, Input: tp.Input}
				continue
			}
			tp.Output = out
			tp.State = ToolOutputAvailable
			r.assistant.Parts[i] = tp
			r.push(stream.ToolOutputAvailable{ToolCallID: tp.ToolCallID, Output: out})
		}
	} else {
		r.assistant = Message{ID: NewMessageID(), Role: RoleAssistant}
	}

	r.priorSteps = reconstructSteps(r.input[lastUser+1:], supplied)
	r.stepOffset = len(r.priorSteps)

	if len(r.pending) > 0 {
		// Not every pending call was answered; pause again without a model
		// call.
		r.pause()
	}
}

func (r *Run) startStep() {
	stepNumber := r.stepOffset + len(r.steps) + 1
	if stepNumber > r.engine.cfg.MaxSteps {
		r.finish(FinishMaxSteps)
		return
	}

	planHistory := append(append([]Step(nil), r.priorSteps...), r.steps...)
	choice := r.engine.cfg.Planner.Plan(planHistory, stepNumber)

	defs := make([]provider.ToolDefinition, 0)
	for _, def := range r.registry.Definitions() {
		defs = append(defs, provider.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}

	req := provider.Request{
		Model:      r.engine.cfg.Model,
		Messages:   append([]provider.Message(nil), r.history...),
		Tools:      defs,
		ToolChoice: provider.ToolChoice{Kind: string(choice.Kind), Name: choice.ToolName},
	}

	r.logger.Debug("starting step", "step", stepNumber, "toolChoice", choice.Kind, "tools", len(defs))

	st, err := r.engine.cfg.Provider.Stream(r.ctx, req)
	if err != nil {
		r.fail(err)
		return
	}
	r.curStream = st
	r.curStep = &Step{StepNumber: stepNumber, ToolChoice: choice}
	r.stepDeltaLen = 0
}

func (r *Run) pumpStream() {
	if r.curStream.Next() {
		d := r.curStream.Delta()
		if d.Text != "" {
			r.appendText(d.Text)
			r.stepDeltaLen += len(d.Text)
			r.push(stream.TextDelta{MessageID: r.assistant.ID, Delta: d.Text})
		}
		return
	}

	if err := r.curStream.Err(); err != nil {
		_ = r.curStream.Close()
		r.curStream = nil
		r.fail(err)
		return
	}

	final := r.curStream.Final()
	_ = r.curStream.Close()
	r.curStream = nil
	r.finishStep(final)
}

func (r *Run) finishStep(final *provider.Response) {
	step := *r.curStep
	r.curStep = nil

	if final == nil {
		r.steps = append(r.steps, step)
		r.finish(FinishStop)
		return
	}

	r.history = append(r.history, final.Message)
	for _, p := range final.Message.Content {
		if tp, ok := p.(provider.TextPart); ok {
			step.Text += tp.Text
		}
	}

	// Providers that only report text on the final response still get it
	// reflected into the assistant message.
	if step.Text != "" && r.stepDeltaLen == 0 {
		r.appendText(step.Text)
		r.push(stream.TextDelta{MessageID: r.assistant.ID, Delta: step.Text})
	}

	calls := provider.ExtractToolCalls(final.Message)
	if len(calls) == 0 {
		r.steps = append(r.steps, step)
		r.finish(FinishStop)
		return
	}

	paused := false
	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		tc := ToolCall{ID: id, Name: call.Name, Input: call.Args}
		step.ToolCalls = append(step.ToolCalls, tc)

		def, err := r.registry.Get(call.Name)
		if err != nil {
			// Registry misuse is fatal to the request that triggered it.
			r.steps = append(r.steps, step)
			r.fail(err)
			return
		}

		part := ToolPart{
			ToolCallID: id,
			ToolName:   call.Name,
			Input:      call.Args,
			State:      ToolInputAvailable,
		}
		r.push(stream.ToolInputAvailable{ToolCallID: id, ToolName: call.Name, Input: call.Args})

		if err := r.registry.ValidateInput(call.Name, call.Args); err != nil {
			r.resolveError(&step, &part, err.Error())
			continue
		}

		if def.Execute == nil {
			r.assistant.Parts = append(r.assistant.Parts, part)
			r.pending[id] = tc
			paused = true
			continue
		}

		out, err := def.Execute(r.ctx, call.Args)
		if err != nil {
			eerr := &ExecutorError{ToolName: call.Name, ToolCallID: id, Cause: err}
			r.resolveError(&step, &part, eerr.Error())
			continue
		}
		raw, err := json.Marshal(out)
		if err != nil {
			raw = json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		part.State = ToolOutputAvailable
		part.Output = raw
		r.assistant.Parts = append(r.assistant.Parts, part)
		r.push(stream.ToolOutputAvailable{ToolCallID: id, Output: raw})
		step.ToolResults = append(step.ToolResults, ToolResult{ToolCallID: id, ToolName: call.Name, Output: raw})
		r.history = append(r.history, provider.ToolResult(id, raw))
	}

	r.steps = append(r.steps, step)
	if paused {
		r.pause()
	}
}

// resolveError contains a validation or executor failure to the one tool
// part; other calls in the same step are unaffected.
func (r *Run) resolveError(step *Step, part *ToolPart, errText string) {
	part.State = ToolOutputError
	part.ErrorText = errText
	r.assistant.Parts = append(r.assistant.Parts, *part)
	r.push(stream.ToolOutputError{ToolCallID: part.ToolCallID, ErrorText: errText})
	step.ToolResults = append(step.ToolResults, ToolResult{
		ToolCallID: part.ToolCallID,
		ToolName:   part.ToolName,
		ErrorText:  errText,
	})
	payload, _ := json.Marshal(map[string]string{"error": errText})
	r.history = append(r.history, provider.ToolResult(part.ToolCallID, payload))
}

func (r *Run) appendText(delta string) {
	for i, p := range r.assistant.Parts {
		if tp, ok := p.(TextPart); ok {
			tp.Text += delta
			r.assistant.Parts[i] = tp
			return
		}
	}
	r.assistant.Parts = append(r.assistant.Parts, TextPart{Text: delta})
}

func (r *Run) push(ev stream.Event) {
	r.queue = append(r.queue, ev)
}

func (r *Run) pause() {
	r.status = StatusPaused
	r.finishReason = FinishPending
	r.push(stream.Finish{Status: string(StatusPaused), FinishReason: string(FinishPending)})
}

func (r *Run) finish(reason FinishReason) {
	r.status = StatusFinished
	r.finishReason = reason
	r.push(stream.Finish{Status: string(StatusFinished), FinishReason: string(reason)})
}

func (r *Run) fail(err error) {
	r.err = err
	r.status = StatusFailed
	r.finishReason = FinishError
	r.logger.Error("turn failed", "error", err)

	if r.assistant.ID == "" {
		r.assistant = Message{ID: NewMessageID(), Role: RoleAssistant}
	}

	explanation := "The request could not be completed: " + err.Error()
	r.appendText(explanation)
	r.push(stream.TextDelta{MessageID: r.assistant.ID, Delta: explanation})
	r.push(stream.Failure{ErrorText: err.Error()})
	r.push(stream.Finish{Status: string(StatusFailed), FinishReason: string(FinishError)})
}

func hasUnresolvedCalls(m Message) bool {
	for _, tp := range m.ToolParts() {
		if tp.State == ToolInputAvailable && len(tp.Output) == 0 {
			return true
		}
	}
	return false
}

// reconstructSteps rebuilds the steps of earlier exchanges in the same
// logical turn from the messages after the most recent user message. Each
// terminal tool part stands in for one completed step; exact step grouping
// is not recoverable from the message log.
func reconstructSteps(msgs []Message, supplied map[string]json.RawMessage) []Step {
	var steps []Step
	n := 0
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tp := range m.ToolParts() {
			n++
			step := Step{
				StepNumber: n,
				ToolCalls:  []ToolCall{{ID: tp.ToolCallID, Name: tp.ToolName, Input: tp.Input}},
			}
			out := tp.Output
			if len(out) == 0 {
				out = supplied[tp.ToolCallID]
			}
			switch {
			case tp.State == ToolOutputError:
				step.ToolResults = []ToolResult{{ToolCallID: tp.ToolCallID, ToolName: tp.ToolName, ErrorText: tp.ErrorText}}
			case len(out) != 0:
				step.ToolResults = []ToolResult{{ToolCallID: tp.ToolCallID, ToolName: tp.ToolName, Output: out}}
			}
			steps = append(steps, step)
		}
	}
	return steps
}

// toProviderHistory converts the conversation log to provider-native form.
// Tool outputs stored on assistant tool parts become tool result messages
// directly after their assistant message, unless an explicit tool message
// for the same call appears in the log.
func toProviderHistory(systemPrompt string, msgs []Message) ([]provider.Message, error) {
	explicit := map[string]bool{}
	for _, m := range msgs {
		if m.Role != RoleTool {
			continue
		}
		for _, tp := range m.ToolParts() {
			explicit[tp.ToolCallID] = true
		}
	}

	var out []provider.Message
	if systemPrompt != "" {
		out = append(out, provider.Text(provider.RoleSystem, systemPrompt))
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, provider.Text(provider.RoleUser, m.Text()))

		case RoleAssistant:
			var content []provider.ContentPart
			if txt := m.Text(); txt != "" {
				content = append(content, provider.TextPart{Text: txt})
			}
			var results []provider.Message
			for _, tp := range m.ToolParts() {
				content = append(content, provider.ToolCallPart{
					ID:   tp.ToolCallID,
					Name: tp.ToolName,
					Args: tp.Input,
				})
				if explicit[tp.ToolCallID] {
					continue
				}
				switch {
				case tp.State == ToolOutputError:
					payload, _ := json.Marshal(map[string]string{"error": tp.ErrorText})
					results = append(results, provider.ToolResult(tp.ToolCallID, payload))
				case len(tp.Output) != 0:
					results = append(results, provider.ToolResult(tp.ToolCallID, tp.Output))
				}
			}
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: content})
			out = append(out, results...)

		case RoleTool:
			for _, tp := range m.ToolParts() {
				if tp.ToolCallID == "" {
					return nil, fmt.Errorf("tool result message missing toolCallId")
				}
				out = append(out, provider.ToolResult(tp.ToolCallID, tp.Output))
			}

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}
