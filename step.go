package agentloop

import "encoding/json"

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the resolved outcome of a tool call. Exactly one of Output
// and ErrorText is meaningful.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Output     json.RawMessage
	ErrorText  string
}

// Step records one model invocation cycle: the constraint presented to the
// model, the text it produced, the tool calls it requested, and the results
// resolved during the step. Calls awaiting a human-supplied result belong to
// the run's pending set, not the step's results.
type Step struct {
	StepNumber  int // 1-based, cumulative across pause/resume
	ToolChoice  ToolChoice
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Status is the run's position in its life cycle. A run is in exactly one
// status at any time.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

type FinishReason string

const (
	// FinishStop: the model produced a text-only reply with no tool calls.
	FinishStop FinishReason = "stop"
	// FinishMaxSteps: the configured step budget was reached.
	FinishMaxSteps FinishReason = "max-steps"
	// FinishPending: the run paused awaiting a human-supplied tool result.
	FinishPending FinishReason = "pending-tool-calls"
	// FinishError: the provider call failed and the run was aborted.
	FinishError FinishReason = "error"
)
