package reasoning

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/config"
	"aegis/internal/embedding"
	"aegis/internal/memory"
)

func testPlanner() *Planner {
	return NewPlanner(embedding.NewLocalEngine(128), config.DefaultReasoningConfig())
}

func TestAutoStrategySelection(t *testing.T) {
	p := testPlanner()
	cases := []struct {
		query string
		want  string
	}{
		{"scan the lab subnet for exposed services", config.StrategyEvolutionary},
		{"what is xss", config.StrategyZeroShot},
		{"explain in depth how kerberos authentication delegates trust between realms and where golden ticket forgery breaks the chain", config.StrategyFirstPrinciples},
	}
	for _, tc := range cases {
		if got := p.selectStrategy(tc.query); got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.query, got, tc.want)
		}
	}
}

func TestZeroShotPlanShape(t *testing.T) {
	p := testPlanner()
	plan, err := p.Plan(context.Background(), "what is xss", config.StrategyZeroShot)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepReason {
		t.Errorf("plan = %+v", plan)
	}
}

func TestFirstPrinciplesPlanShape(t *testing.T) {
	p := testPlanner()
	plan, err := p.Plan(context.Background(), "explain kerberos delegation weaknesses thoroughly", config.StrategyFirstPrinciples)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Steps[0].Kind != StepRetrieve {
		t.Error("first-principles must retrieve context first")
	}
	last := plan.Steps[len(plan.Steps)-1]
	if last.Kind != StepReason || last.StrategyHint != "derivation" {
		t.Errorf("last step = %+v", last)
	}
	// Axiom steps come guarded.
	for i, s := range plan.Steps[1 : len(plan.Steps)-1] {
		if i%2 == 0 && s.Kind != StepReason {
			t.Errorf("step %d: expected axiom reason, got %s", i+1, s.Kind)
		}
		if i%2 == 1 && s.Kind != StepVerify {
			t.Errorf("step %d: expected verify, got %s", i+1, s.Kind)
		}
	}
}

func TestEvolutionaryPlanDeterministic(t *testing.T) {
	p := testPlanner()
	ctx := context.Background()
	query := "scan the dmz subnet and summarize exposed services"

	a, err := p.Plan(ctx, query, config.StrategyEvolutionary)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Steps) == 0 || a.Strategy != config.StrategyEvolutionary {
		t.Fatalf("plan = %+v", a)
	}
	b, err := p.Plan(ctx, query, config.StrategyEvolutionary)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("evolutionary planning must be deterministic for a fixed query")
	}
}

func TestUnknownStrategyRejected(t *testing.T) {
	p := testPlanner()
	if _, err := p.Plan(context.Background(), "q", "quantum"); aerr.KindOf(err) != aerr.KindValidation {
		t.Errorf("kind = %s", aerr.KindOf(err))
	}
}

// Executor fakes.

type fakeAnswerer struct{ prompts []string }

func (f *fakeAnswerer) AnswerText(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return "answer(" + prompt + ")", nil
}

type fakeRunner struct {
	out string
	err error
}

func (f *fakeRunner) Run(_ context.Context, name string, _ map[string]any, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	return "tool(" + name + ")", nil
}

type fakeRetriever struct{}

func (fakeRetriever) SearchSimilar(_ context.Context, query string, _ int) ([]memory.SearchResult, error) {
	return []memory.SearchResult{{ID: "m1", Text: "snippet for " + query, Score: 0.9}}, nil
}

func newTestExecutor(a Answerer, r ToolRunner) *Executor {
	return NewExecutor(ExecutorOptions{
		Answerer:  a,
		Tools:     r,
		Retriever: fakeRetriever{},
		MaxSteps:  8,
		Timeout:   time.Second,
	})
}

func TestExecutorScopedEnvironment(t *testing.T) {
	ans := &fakeAnswerer{}
	e := newTestExecutor(ans, &fakeRunner{})
	plan := Plan{Steps: []Step{
		{Kind: StepRetrieve, Query: "dns tunneling"},
		{Kind: StepReason, Prompt: "summarize: $step1"},
	}}
	res, err := e.Execute(context.Background(), plan, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 || res.Truncated {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(ans.prompts[0], "snippet for dns tunneling") {
		t.Errorf("env not expanded into prompt: %q", ans.prompts[0])
	}
	if !strings.HasPrefix(res.Output, "answer(") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecutorVerifyAbortAndContinue(t *testing.T) {
	e := newTestExecutor(&fakeAnswerer{}, &fakeRunner{})
	ctx := context.Background()

	abort := Plan{Steps: []Step{
		{Kind: StepReason, Prompt: "p"},
		{Kind: StepVerify, Predicate: "contains:absent-token", OnFail: FailAbort},
		{Kind: StepReason, Prompt: "never runs"},
	}}
	res, err := e.Execute(ctx, abort, "")
	if err == nil {
		t.Fatal("failed verify with abort must error")
	}
	if len(res.Steps) != 2 {
		t.Errorf("executed %d steps, want 2", len(res.Steps))
	}

	cont := Plan{Steps: []Step{
		{Kind: StepReason, Prompt: "p"},
		{Kind: StepVerify, Predicate: "contains:absent-token", OnFail: FailContinue},
		{Kind: StepReason, Prompt: "still runs"},
	}}
	res, err = e.Execute(ctx, cont, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 3 {
		t.Errorf("executed %d steps, want 3", len(res.Steps))
	}
}

func TestExecutorToolDenialAborts(t *testing.T) {
	denied := &fakeRunner{err: aerr.Sentinel(aerr.KindToolNotPermitted)}
	e := newTestExecutor(&fakeAnswerer{}, denied)
	ctx := context.Background()

	plan := Plan{Steps: []Step{
		{Kind: StepTool, ToolName: "nmap"},
		{Kind: StepReason, Prompt: "never runs"},
	}}
	_, err := e.Execute(ctx, plan, "")
	if aerr.KindOf(err) != aerr.KindToolNotPermitted {
		t.Fatalf("kind = %s", aerr.KindOf(err))
	}

	// A protecting verify absorbs the denial.
	protected := Plan{Steps: []Step{
		{Kind: StepTool, ToolName: "nmap"},
		{Kind: StepVerify, Predicate: "no-error", OnFail: FailContinue},
		{Kind: StepReason, Prompt: "recovery"},
	}}
	res, err := e.Execute(ctx, protected, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 3 {
		t.Errorf("executed %d steps, want 3", len(res.Steps))
	}
}

func TestExecutorStepCapTruncates(t *testing.T) {
	e := NewExecutor(ExecutorOptions{
		Answerer: &fakeAnswerer{}, Tools: &fakeRunner{}, Retriever: fakeRetriever{},
		MaxSteps: 2, Timeout: time.Second,
	})
	plan := Plan{Steps: []Step{
		{Kind: StepReason, Prompt: "1"},
		{Kind: StepReason, Prompt: "2"},
		{Kind: StepReason, Prompt: "3"},
	}}
	res, err := e.Execute(context.Background(), plan, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated || len(res.Steps) != 2 {
		t.Errorf("res = %+v", res)
	}
}

type slowAnswerer struct{}

func (slowAnswerer) AnswerText(ctx context.Context, _ string) (string, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "slow", nil
	case <-ctx.Done():
		return "", aerr.E(aerr.KindTimeout, "test", ctx.Err())
	}
}

func TestExecutorWallClockTimeout(t *testing.T) {
	e := NewExecutor(ExecutorOptions{
		Answerer: slowAnswerer{}, Tools: &fakeRunner{}, Retriever: fakeRetriever{},
		MaxSteps: 8, Timeout: 50 * time.Millisecond,
	})
	plan := Plan{Steps: []Step{
		{Kind: StepReason, Prompt: "a"},
		{Kind: StepReason, Prompt: "b"},
	}}
	res, err := e.Execute(context.Background(), plan, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("timeout must mark the result truncated")
	}
}

func TestCheckPredicate(t *testing.T) {
	if err := checkPredicate("non-empty", "text", nil); err != nil {
		t.Error(err)
	}
	if err := checkPredicate("non-empty", "  ", nil); err == nil {
		t.Error("blank output must fail non-empty")
	}
	if err := checkPredicate("contains:abc", "xxabcxx", nil); err != nil {
		t.Error(err)
	}
	if err := checkPredicate("nonsense", "x", nil); aerr.KindOf(err) != aerr.KindValidation {
		t.Error("unknown predicate must be a validation error")
	}
}

func TestToolArgsSeededFromQuery(t *testing.T) {
	args := toolArgs("nmap", "scan ports on 10.0.0.1 please")
	if args["target"] != "10.0.0.1" {
		t.Errorf("target = %v, want the address from the query", args["target"])
	}

	args = toolArgs("whois", "lookup example.org for me")
	if args["domain"] != "example.org" {
		t.Errorf("domain = %v, want example.org", args["domain"])
	}

	args = toolArgs("snort-rule-check", "validate this rule")
	if args["rule"] != "validate this rule" {
		t.Errorf("rule = %v", args["rule"])
	}
}

func TestExpandSubstitutesLongestTokenFirst(t *testing.T) {
	env := make(map[string]string)
	for i := 1; i <= 12; i++ {
		env["$step"+strconv.Itoa(i)] = "out" + strconv.Itoa(i)
	}
	got := expand("compare $step1 with $step10 and $step12", env)
	want := "compare out1 with out10 and out12"
	if got != want {
		t.Errorf("expand = %q, want %q", got, want)
	}
}
