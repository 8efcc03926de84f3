// Package reasoning turns a query into an ordered plan of steps and
// executes them through the permission gate and the answer pipeline.
package reasoning

import "strings"

// StepKind discriminates plan steps.
type StepKind string

const (
	StepReason   StepKind = "reason"
	StepTool     StepKind = "tool"
	StepRetrieve StepKind = "retrieve"
	StepVerify   StepKind = "verify"
)

// FailAction controls what a failed Verify does to the plan.
type FailAction string

const (
	FailAbort    FailAction = "abort"
	FailContinue FailAction = "continue"
)

// Step is one unit of plan execution. The populated fields depend on Kind.
type Step struct {
	Kind StepKind `json:"kind"`

	// Reason
	Prompt       string `json:"prompt,omitempty"`
	StrategyHint string `json:"strategyHint,omitempty"`

	// Tool
	ToolName  string         `json:"toolName,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Simulated bool           `json:"simulated,omitempty"`

	// Retrieve
	Query string `json:"query,omitempty"`
	K     int    `json:"k,omitempty"`

	// Verify
	Predicate string     `json:"predicate,omitempty"`
	OnFail    FailAction `json:"onFail,omitempty"`
}

// Plan is an ordered step list with the strategy that produced it.
type Plan struct {
	Strategy string `json:"strategy"`
	Steps    []Step `json:"steps"`
}

// describe renders a step for fitness scoring and logs.
func (s Step) describe() string {
	switch s.Kind {
	case StepReason:
		return "reason about " + s.Prompt
	case StepTool:
		return "run tool " + s.ToolName
	case StepRetrieve:
		return "retrieve context for " + s.Query
	case StepVerify:
		return "verify " + s.Predicate
	}
	return string(s.Kind)
}

// describe joins step descriptions; the evolutionary fitness compares this
// text against the query.
func (p Plan) describe() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = s.describe()
	}
	return strings.Join(parts, "; ")
}
