package agentloop

// ToolChoiceKind constrains which tool, if any, the model must call on the
// upcoming step.
type ToolChoiceKind string

const (
	// ToolChoiceAuto leaves the model free to call any tool or none.
	ToolChoiceAuto ToolChoiceKind = "auto"
	// ToolChoiceNone forbids tool calls for the step.
	ToolChoiceNone ToolChoiceKind = "none"
	// ToolChoiceRequired forces the model to call some tool.
	ToolChoiceRequired ToolChoiceKind = "required"
	// ToolChoiceTool forces the model to call the named tool.
	ToolChoiceTool ToolChoiceKind = "tool"
)

type ToolChoice struct {
	Kind     ToolChoiceKind
	ToolName string
}

func Auto() ToolChoice             { return ToolChoice{Kind: ToolChoiceAuto} }
func NoTools() ToolChoice          { return ToolChoice{Kind: ToolChoiceNone} }
func RequireAny() ToolChoice       { return ToolChoice{Kind: ToolChoiceRequired} }
func RequireTool(name string) ToolChoice {
	return ToolChoice{Kind: ToolChoiceTool, ToolName: name}
}

// Planner decides the tool-choice constraint for the upcoming model step.
// Implementations must be pure functions of the arguments: the same history
// and step number always yield the same constraint.
type Planner interface {
	Plan(history []Step, stepNumber int) ToolChoice
}

type PlannerFunc func(history []Step, stepNumber int) ToolChoice

func (f PlannerFunc) Plan(history []Step, stepNumber int) ToolChoice {
	return f(history, stepNumber)
}

// AutoPlanner leaves every step unconstrained.
func AutoPlanner() Planner {
	return PlannerFunc(func([]Step, int) ToolChoice { return Auto() })
}

// SequencePlanner encodes a fixed pipeline: the first tool in the sequence
// with no result anywhere in the step history is forced next. Once every
// tool in the sequence has produced a result, the model is unconstrained.
type SequencePlanner struct {
	Sequence []string
}

func (p SequencePlanner) Plan(history []Step, stepNumber int) ToolChoice {
	_ = stepNumber
	seen := map[string]bool{}
	for _, step := range history {
		for _, res := range step.ToolResults {
			if res.ErrorText == "" {
				seen[res.ToolName] = true
			}
		}
	}
	for _, name := range p.Sequence {
		if !seen[name] {
			return RequireTool(name)
		}
	}
	return Auto()
}
