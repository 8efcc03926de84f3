package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/audit"
	"aegis/internal/config"
	"aegis/internal/embedding"
	"aegis/internal/health"
	"aegis/internal/llm"
	"aegis/internal/pipeline"

	"github.com/stretchr/testify/require"
)

var testMaster = []byte("0123456789abcdef0123456789abcdef")

// fakeLLM answers deterministically and tracks call concurrency.
type fakeLLM struct {
	mu          sync.Mutex
	calls       int
	inflight    int
	maxInflight int
	delay       time.Duration
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.GenerateWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) GenerateWithSystem(_ context.Context, _, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return "Answer: attacker-controlled input must be validated; use parameterized statements and least privilege.", nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestAgent(t *testing.T, dir string, client llm.Client, mutate func(*config.Config)) *Agent {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dir
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(Options{
		Config:    cfg,
		MasterKey: testMaster,
		LLM:       client,
		Engine:    embedding.NewLocalEngine(128),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestProcessEndToEnd(t *testing.T) {
	f := &fakeLLM{}
	a := newTestAgent(t, t.TempDir(), f, nil)
	ctx := context.Background()

	resp, err := a.Process(ctx, "what is sql injection?", ProcessOptions{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text == "" {
		t.Error("empty answer")
	}
	if resp.RequestID == "" {
		t.Error("missing request id")
	}
	if len(resp.Reasoning) == 0 {
		t.Error("empty reasoning trace")
	}
	if resp.Performance.Strategy != config.StrategyZeroShot {
		t.Errorf("strategy = %s, want zero-shot", resp.Performance.Strategy)
	}
	if resp.MemorySnapshot.EpisodicCount == 0 {
		t.Error("interaction not stored in episodic memory")
	}

	got := a.Audit().Query(audit.Filter{Action: "agent.process"})
	if len(got) != 1 || !got[0].Success {
		t.Errorf("audit trail = %+v", got)
	}
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)
	if _, err := a.Process(context.Background(), "   ", ProcessOptions{}); aerr.KindOf(err) != aerr.KindValidation {
		t.Fatalf("kind = %s, want Validation", aerr.KindOf(err))
	}
}

func TestProcessSerializesWithinSession(t *testing.T) {
	f := &fakeLLM{delay: 20 * time.Millisecond}
	a := newTestAgent(t, t.TempDir(), f, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := fmt.Sprintf("explain credential stuffing variant number %d", i)
			if _, err := a.Process(ctx, input, ProcessOptions{SessionID: "shared"}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	f.mu.Lock()
	max := f.maxInflight
	f.mu.Unlock()
	if max > 1 {
		t.Errorf("max in-flight generations within one session = %d, want 1", max)
	}
}

func TestQueryKnowledgeCachesSecondCall(t *testing.T) {
	f := &fakeLLM{}
	a := newTestAgent(t, t.TempDir(), f, nil)
	ctx := context.Background()

	first, err := a.QueryKnowledge(ctx, "what is sql injection?", pipeline.QueryOptions{})
	require.NoError(t, err)
	require.False(t, first.Cached, "cold query reported cached")
	require.NotEmpty(t, first.Techniques, "catalog techniques missing")
	require.Greater(t, first.ProcessingTime, time.Duration(0))

	// Case and punctuation changes normalize to the same fingerprint.
	second, err := a.QueryKnowledge(ctx, "What is SQL injection?", pipeline.QueryOptions{})
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, "exact", second.HitType)
	require.Equal(t, 1, f.callCount(), "second call must be served from cache")
}

func TestGenerationLatencyExported(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)

	_, err := a.QueryKnowledge(context.Background(), "how does arp spoofing work", pipeline.QueryOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "aegis_llm_call_seconds_count 1",
		"generated response must observe the latency histogram")
}

func TestIngestSplitsAndFilters(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)
	long1 := strings.Repeat("lateral movement relies on harvested credentials and remote services. ", 3)
	long2 := strings.Repeat("dns tunneling hides payloads inside query names to evade egress filters. ", 3)
	doc := long1 + "\n\n" + "too short" + "\n\n" + long2

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := a.Ingest(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, IngestReport{AcceptedChunks: 2, Rejected: 1}, report)

	_, err = a.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.Equal(t, aerr.KindNotFound, aerr.KindOf(err))
}

func TestMissionLifecycle(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)
	ctx := context.Background()

	m, err := a.StartMission(ctx, "s1", "sql injection")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Objectives) == 0 {
		t.Fatal("mission has no objectives")
	}

	// A throwaway answer does not advance the mission.
	out, err := a.SubmitStep(ctx, m.ID, "no")
	if err != nil {
		t.Fatal(err)
	}
	if out.Passed {
		t.Error("trivial answer passed")
	}

	answers := map[string]string{
		"union-based injection":      "union-based injection appends a UNION SELECT to read rows from other tables",
		"boolean blind injection":    "boolean blind injection infers data from true or false differences in page behaviour",
		"time-based blind injection": "time-based blind injection measures response delays caused by injected sleep calls",
	}
	for range m.Objectives {
		a.missionMu.Lock()
		objective := m.Objectives[m.Progress]
		a.missionMu.Unlock()
		answer, ok := answers[objective]
		if !ok {
			answer = "this answer restates the objective verbatim: " + objective
		}
		out, err = a.SubmitStep(ctx, m.ID, answer)
		if err != nil {
			t.Fatal(err)
		}
		if !out.Passed {
			t.Fatalf("answer for %q did not pass (score %.2f)", objective, out.Score)
		}
	}
	if !out.Completed {
		t.Error("mission not completed after all objectives")
	}

	if _, err := a.SubmitStep(ctx, m.ID, "anything at all, mission is over"); aerr.KindOf(err) != aerr.KindConflictingState {
		t.Errorf("kind = %s, want ConflictingState", aerr.KindOf(err))
	}

	improvements, err := a.ProvideFeedback(ctx, m.ID, "the walkthrough was inaccurate and too long")
	if err != nil {
		t.Fatal(err)
	}
	if len(improvements) == 0 {
		t.Error("critical feedback produced no improvements")
	}
}

func TestSimulationModeNeverExecutesTools(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, func(c *config.Config) {
		c.Runtime.Mode = config.ModeSimulation
	})

	for _, d := range a.registry.List("") {
		if dec := a.gate.Resolve(d); !dec.SimulationOnly {
			t.Errorf("tool %s not forced into simulation", d.Name)
		}
	}

	resp, err := a.Process(context.Background(), "scan ports on 10.0.0.1", ProcessOptions{SessionID: "sim"})
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range resp.Reasoning {
		if step.Kind == "tool" && step.Error == "" && !strings.Contains(step.Output, "[SIMULATED OUTPUT") {
			t.Errorf("tool step produced real output: %q", step.Output)
		}
	}
}

func TestHealthCheckAndManualHealing(t *testing.T) {
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)
	ctx := context.Background()

	summary := a.HealthCheck(ctx)
	if len(summary.Probes) < 3 {
		t.Fatalf("probes = %d, want at least performance, memory and bus", len(summary.Probes))
	}
	if summary.Overall != health.StatusHealthy {
		t.Errorf("overall = %s on an idle runtime", summary.Overall)
	}
	if !strings.Contains(a.HealthReport(), "# Health Report") {
		t.Error("report missing heading")
	}

	outcome := a.TriggerSelfHealing(ctx)
	found := false
	for _, name := range outcome.Executed {
		if name == "clear-memory-cache" {
			found = true
		}
		if name == "validate-system-integrity" {
			t.Error("manual trigger ran the high-severity action on a non-unhealthy runtime")
		}
	}
	if !found {
		t.Errorf("executed = %v, want clear-memory-cache", outcome.Executed)
	}
}

func TestPersistRestartServesFromCache(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f1 := &fakeLLM{}
	a1 := newTestAgent(t, dir, f1, nil)
	if _, err := a1.QueryKnowledge(ctx, "what is dns tunneling?", pipeline.QueryOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := a1.Persist(ctx); err != nil {
		t.Fatal(err)
	}

	f2 := &fakeLLM{}
	a2 := newTestAgent(t, dir, f2, nil)
	res, err := a2.QueryKnowledge(ctx, "what is dns tunneling?", pipeline.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || res.HitType != "exact" {
		t.Errorf("cached=%v hitType=%s after restart, want exact hit", res.Cached, res.HitType)
	}
	if f2.callCount() != 0 {
		t.Errorf("restarted agent called the model %d times", f2.callCount())
	}
}

func TestCorruptEpisodicStoreRefusedAtStartup(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a1 := newTestAgent(t, dir, &fakeLLM{}, nil)
	if _, err := a1.Process(ctx, "what is phishing?", ProcessOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := a1.Persist(ctx); err != nil {
		t.Fatal(err)
	}

	episodic := filepath.Join(dir, "memory", "episodic.json")
	if err := os.WriteFile(episodic, []byte("not an envelope"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DataDir = dir
	a2, err := New(Options{Config: cfg, MasterKey: testMaster, LLM: &fakeLLM{}, Engine: embedding.NewLocalEngine(128)})
	if err != nil {
		t.Fatal(err)
	}
	if err := a2.Initialize(ctx); aerr.KindOf(err) != aerr.KindPersistenceCorrupt {
		t.Fatalf("kind = %s, want PersistenceCorrupt", aerr.KindOf(err))
	}
	if got := a2.Audit().Query(audit.Filter{Action: "startup.persistence.corrupt"}); len(got) == 0 {
		t.Error("corruption refusal not audited")
	}
}

func TestBootstrapAdminFromEnvironment(t *testing.T) {
	t.Setenv(envAdminPassword, "a-long-enough-password")
	a := newTestAgent(t, t.TempDir(), &fakeLLM{}, nil)
	if a.Auth().UserCount() != 1 {
		t.Fatalf("users = %d, want seeded admin", a.Auth().UserCount())
	}
	if _, err := a.Auth().Authenticate(context.Background(), "admin", "a-long-enough-password", "", "cli"); err != nil {
		t.Errorf("seeded admin cannot authenticate: %v", err)
	}
}
