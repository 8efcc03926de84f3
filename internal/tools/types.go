// Package tools holds the tool registry and the permission gate that
// decides, per mode and per tool, whether a call runs for real, requires
// approval, or is simulated.
package tools

import "context"

// Category classifies tools for listing and rate limiting.
type Category string

const (
	CategoryRecon    Category = "recon"
	CategoryAnalysis Category = "analysis"
	CategoryDefense  Category = "defense"
	CategoryGeneral  Category = "general"
)

// SideEffect declares what a tool touches. The gate keys its approval
// rules on these.
type SideEffect string

const (
	EffectRead        SideEffect = "read"
	EffectWrite       SideEffect = "write"
	EffectNetwork     SideEffect = "network"
	EffectDestructive SideEffect = "destructive"
)

// Property describes one argument for schema validation.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ArgsSchema declares a tool's arguments.
type ArgsSchema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs the tool against real systems.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Descriptor is one registered tool.
type Descriptor struct {
	Name        string
	Description string
	Category    Category
	ArgsSchema  ArgsSchema
	SideEffects []SideEffect
	Execute     ExecuteFunc
}

// HasEffect reports whether the descriptor declares the given side effect.
func (d Descriptor) HasEffect(e SideEffect) bool {
	for _, s := range d.SideEffects {
		if s == e {
			return true
		}
	}
	return false
}

// Sensitive reports whether the tool does more than read.
func (d Descriptor) Sensitive() bool {
	return d.HasEffect(EffectWrite) || d.HasEffect(EffectNetwork) || d.HasEffect(EffectDestructive)
}
