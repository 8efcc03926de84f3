package tools

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/resilience"
)

func echoTool(name string, effects ...SideEffect) Descriptor {
	return Descriptor{
		Name:        name,
		Category:    CategoryGeneral,
		SideEffects: effects,
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return "ran " + name, nil
		},
	}
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("beta")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("beta")); aerr.KindOf(err) != aerr.KindConflictingState {
		t.Error("duplicate registration must be ConflictingState")
	}
	if err := r.Register(Descriptor{Name: "no-exec"}); aerr.KindOf(err) != aerr.KindValidation {
		t.Error("nil execute must be rejected")
	}

	all := r.List("")
	if len(all) != 2 || all[0].Name != "alpha" {
		t.Errorf("List = %v", all)
	}
	if _, err := r.Get("ghost"); aerr.KindOf(err) != aerr.KindNotFound {
		t.Error("unknown tool must be NotFound")
	}
}

func TestGateModeRules(t *testing.T) {
	readTool := echoTool("viewer", EffectRead)
	netTool := echoTool("scanner", EffectNetwork)

	cases := []struct {
		mode config.Mode
		tool Descriptor
		want Decision
	}{
		{config.ModePro, netTool, Decision{Allow: true}},
		{config.ModeBeginner, readTool, Decision{Allow: true}},
		{config.ModeBeginner, netTool, Decision{Allow: true, RequireApproval: true}},
		{config.ModeSafe, netTool, Decision{Allow: true, SimulationOnly: true}},
		{config.ModeSimulation, readTool, Decision{Allow: true, SimulationOnly: true}},
		{config.ModeTraining, netTool, Decision{Allow: true, SimulationOnly: true}},
	}
	for _, tc := range cases {
		g := NewGate(config.RuntimeConfig{Mode: tc.mode})
		if got := g.Resolve(tc.tool); got != tc.want {
			t.Errorf("%s/%s: got %+v, want %+v", tc.mode, tc.tool.Name, got, tc.want)
		}
	}
}

func TestGateOverridesAndGlobalFlag(t *testing.T) {
	tool := echoTool("scanner", EffectNetwork)

	g := NewGate(config.RuntimeConfig{Mode: config.ModePro})
	g.SetOverride("scanner", Override{Deny: true})
	if dec := g.Resolve(tool); dec.Allow {
		t.Error("deny override ignored")
	}

	g = NewGate(config.RuntimeConfig{Mode: config.ModePro, SimulateAll: true})
	if dec := g.Resolve(tool); !dec.SimulationOnly {
		t.Error("global simulate flag ignored")
	}

	// Training mode simulates even tools with a permissive override.
	g = NewGate(config.RuntimeConfig{Mode: config.ModeTraining})
	g.SetOverride("scanner", Override{})
	if dec := g.Resolve(tool); !dec.SimulationOnly {
		t.Error("training mode must simulate overridden tools")
	}
}

func TestSimulationForcingWinsOverOverrides(t *testing.T) {
	tool := echoTool("scanner", EffectNetwork)

	for _, mode := range []config.Mode{config.ModeSafe, config.ModeSimulation, config.ModeTraining} {
		g := NewGate(config.RuntimeConfig{Mode: mode})
		g.SetOverride("scanner", Override{})
		if dec := g.Resolve(tool); !dec.SimulationOnly {
			t.Errorf("mode %s must simulate a tool with a permissive override", mode)
		}
	}

	g := NewGate(config.RuntimeConfig{Mode: config.ModePro, SimulateAll: true})
	g.SetOverride("scanner", Override{})
	if dec := g.Resolve(tool); !dec.SimulationOnly {
		t.Error("global simulate flag must win over a permissive override")
	}
}

func TestAuthorizeErrorKinds(t *testing.T) {
	tool := echoTool("scanner", EffectNetwork)

	g := NewGate(config.RuntimeConfig{Mode: config.ModeBeginner})
	if _, err := g.Authorize(tool, ""); aerr.KindOf(err) != aerr.KindApprovalRequired {
		t.Errorf("kind = %s, want ApprovalRequired", aerr.KindOf(err))
	}
	if _, err := g.Authorize(tool, "approved-by-alice"); err != nil {
		t.Errorf("approval token rejected: %v", err)
	}

	g.SetOverride("scanner", Override{Deny: true})
	if _, err := g.Authorize(tool, "approved-by-alice"); aerr.KindOf(err) != aerr.KindToolNotPermitted {
		t.Errorf("kind = %s, want ToolNotPermitted", aerr.KindOf(err))
	}
}

func TestRunnerSimulationPath(t *testing.T) {
	r := NewRegistry()
	var executed atomic.Bool
	r.MustRegister(Descriptor{
		Name:        "scanner",
		SideEffects: []SideEffect{EffectNetwork},
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			executed.Store(true)
			return "real output", nil
		},
	})
	b := bus.New()
	var events atomic.Int64
	b.Subscribe(bus.TopicToolExecution, func(_ context.Context, _ bus.Event) { events.Add(1) })

	runner := NewRunner(r, NewGate(config.RuntimeConfig{Mode: config.ModeSimulation}), nil, b)
	out, err := runner.Run(context.Background(), "scanner", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "[SIMULATED OUTPUT for scanner]" {
		t.Errorf("out = %q", out)
	}
	if executed.Load() {
		t.Error("simulated run must not reach Execute")
	}
	if events.Load() != 1 {
		t.Error("tool.execution event not published")
	}
}

func TestRunnerRateLimit(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("limited"))
	runner := NewRunner(r, NewGate(config.RuntimeConfig{Mode: config.ModePro}),
		resilience.NewKeyedWindows(2, time.Minute), nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := runner.Run(ctx, "limited", nil, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := runner.Run(ctx, "limited", nil, ""); aerr.KindOf(err) != aerr.KindRateLimited {
		t.Errorf("kind = %s, want RateLimited", aerr.KindOf(err))
	}
}

func TestRunnerValidatesArgs(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	runner := NewRunner(r, NewGate(config.RuntimeConfig{Mode: config.ModePro}), nil, nil)

	if _, err := runner.Run(context.Background(), "nmap", nil, ""); aerr.KindOf(err) != aerr.KindValidation {
		t.Errorf("kind = %s, want Validation", aerr.KindOf(err))
	}
	out, err := runner.Run(context.Background(), "nmap", map[string]any{"target": "10.0.0.0/24"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "10.0.0.0/24") {
		t.Errorf("out = %q", out)
	}
}

func TestSnortRuleChecker(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	runner := NewRunner(r, NewGate(config.RuntimeConfig{Mode: config.ModePro}), nil, nil)
	ctx := context.Background()

	good := `alert tcp any any -> $HOME_NET 445 (msg:"SMB lateral movement"; sid:1000001;)`
	out, err := runner.Run(ctx, "snort-rule-check", map[string]any{"rule": good}, "")
	if err != nil || out != "rule OK" {
		t.Errorf("good rule: %q, %v", out, err)
	}

	bad := `alert tcp any any => any any (content:"x";)`
	out, err = runner.Run(ctx, "snort-rule-check", map[string]any{"rule": bad}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "direction") || !strings.Contains(out, "sid") {
		t.Errorf("bad rule diagnostics: %q", out)
	}
}
