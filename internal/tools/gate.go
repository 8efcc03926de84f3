package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/logging"
	"aegis/internal/resilience"

	"go.uber.org/zap"
)

// Decision is the permission gate's answer for one tool invocation.
type Decision struct {
	Allow           bool
	RequireApproval bool
	SimulationOnly  bool
}

// Override pins a per-tool policy ahead of the mode rules.
type Override struct {
	Deny            bool
	RequireApproval bool
	SimulationOnly  bool
}

// Gate resolves permissions in order: per-tool overrides, active mode,
// global simulation flag.
type Gate struct {
	mu        sync.RWMutex
	runtime   config.RuntimeConfig
	overrides map[string]Override
}

// NewGate builds a gate for the given runtime state.
func NewGate(rt config.RuntimeConfig) *Gate {
	return &Gate{runtime: rt, overrides: make(map[string]Override)}
}

// SetRuntime swaps the mode and simulation flag, typically on config
// reload.
func (g *Gate) SetRuntime(rt config.RuntimeConfig) {
	g.mu.Lock()
	g.runtime = rt
	g.mu.Unlock()
}

// SetOverride pins a per-tool policy.
func (g *Gate) SetOverride(tool string, o Override) {
	g.mu.Lock()
	g.overrides[tool] = o
	g.mu.Unlock()
}

// Resolve computes the decision for one descriptor.
func (g *Gate) Resolve(d Descriptor) Decision {
	g.mu.RLock()
	rt := g.runtime
	o, hasOverride := g.overrides[d.Name]
	g.mu.RUnlock()

	var dec Decision
	if hasOverride {
		if o.Deny {
			return Decision{}
		}
		dec = Decision{Allow: true, RequireApproval: o.RequireApproval, SimulationOnly: o.SimulationOnly}
	} else {
		dec = Decision{Allow: true}
		if rt.Mode == config.ModeBeginner && d.Sensitive() {
			dec.RequireApproval = true
		}
	}

	// Simulation forcing is unconditional: a simulating mode or the global
	// flag overrides even explicitly configured tools.
	if rt.Mode.SimulationOnly() || rt.SimulateAll {
		dec.SimulationOnly = true
	}
	return dec
}

// Authorize turns a decision plus an approval token into a typed error or
// a go-ahead. A required approval without a token is ApprovalRequired, not
// ToolNotPermitted.
func (g *Gate) Authorize(d Descriptor, approvalToken string) (Decision, error) {
	dec := g.Resolve(d)
	if !dec.Allow {
		return dec, aerr.Errorf(aerr.KindToolNotPermitted, "tools.Authorize",
			"tool %s is not permitted", d.Name)
	}
	if dec.RequireApproval && approvalToken == "" {
		return dec, aerr.Errorf(aerr.KindApprovalRequired, "tools.Authorize",
			"tool %s requires approval", d.Name)
	}
	return dec, nil
}

// SimulatedOutput is the canonical result of a simulated tool step.
func SimulatedOutput(tool string) string {
	return fmt.Sprintf("[SIMULATED OUTPUT for %s]", tool)
}

// Runner executes tools through the gate with per-tool rate limiting and
// bus notifications.
type Runner struct {
	registry *Registry
	gate     *Gate
	windows  *resilience.KeyedWindows
	bus      *bus.Bus
}

// NewRunner wires a runner. windows and b may be nil in tests.
func NewRunner(registry *Registry, gate *Gate, windows *resilience.KeyedWindows, b *bus.Bus) *Runner {
	return &Runner{registry: registry, gate: gate, windows: windows, bus: b}
}

// Run looks up, authorizes, rate-limits and executes one tool call.
// Simulated calls never reach the tool's Execute function.
func (r *Runner) Run(ctx context.Context, name string, args map[string]any, approvalToken string) (string, error) {
	const op = "tools.Run"
	d, err := r.registry.Get(name)
	if err != nil {
		return "", err
	}
	if err := d.ValidateArgs(args); err != nil {
		return "", err
	}
	dec, err := r.gate.Authorize(d, approvalToken)
	if err != nil {
		return "", err
	}
	if r.windows != nil && !r.windows.Allow(name) {
		return "", aerr.Errorf(aerr.KindRateLimited, op, "tool %s rate limited", name)
	}

	start := time.Now()
	var out string
	if dec.SimulationOnly {
		out = SimulatedOutput(name)
	} else {
		out, err = d.Execute(ctx, args)
	}

	if r.bus != nil {
		r.bus.Publish(ctx, bus.Event{Topic: bus.TopicToolExecution, Payload: map[string]any{
			"tool":      name,
			"simulated": dec.SimulationOnly,
			"success":   err == nil,
			"duration":  time.Since(start).Milliseconds(),
		}})
	}
	if err != nil {
		logging.Get(logging.CategoryTools).Warn("tool execution failed",
			zap.String("tool", name), zap.Error(err))
		return "", err
	}
	return out, nil
}
