package agentloop

import "errors"

type DuplicateToolError struct {
	ToolName string
}

func (e *DuplicateToolError) Error() string {
	if e == nil {
		return ""
	}
	return "tool already registered: " + e.ToolName
}

func IsDuplicateTool(err error) bool {
	var e *DuplicateToolError
	return errors.As(err, &e)
}

type UnknownToolError struct {
	ToolName string
}

func (e *UnknownToolError) Error() string {
	if e == nil {
		return ""
	}
	return "unknown tool: " + e.ToolName
}

func IsUnknownTool(err error) bool {
	var e *UnknownToolError
	return errors.As(err, &e)
}

type SchemaValidationError struct {
	ToolName   string
	ToolCallID string
	Cause      error
}

func (e *SchemaValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return "invalid input for tool " + e.ToolName + ": " + e.Cause.Error()
	}
	return "invalid input for tool " + e.ToolName
}

func (e *SchemaValidationError) Unwrap() error { return e.Cause }

func IsSchemaValidation(err error) bool {
	var e *SchemaValidationError
	return errors.As(err, &e)
}

type ExecutorError struct {
	ToolName   string
	ToolCallID string
	Cause      error
}

func (e *ExecutorError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return "tool " + e.ToolName + " failed: " + e.Cause.Error()
	}
	return "tool " + e.ToolName + " failed"
}

func (e *ExecutorError) Unwrap() error { return e.Cause }

func IsExecutor(err error) bool {
	var e *ExecutorError
	return errors.As(err, &e)
}
