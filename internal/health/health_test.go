package health

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aegis/internal/bus"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProbe struct {
	name   string
	status Status
}

func (s stubProbe) Name() string { return s.name }
func (s stubProbe) Probe(_ context.Context) ProbeResult {
	return ProbeResult{Name: s.name, Status: s.status, Message: string(s.status)}
}

type stubCache struct {
	rate float64
	n    int
}

func (s stubCache) HitRate() float64 { return s.rate }
func (s stubCache) Len() int         { return s.n }

func TestAggregationRules(t *testing.T) {
	cases := []struct {
		statuses []Status
		want     Status
	}{
		{[]Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{[]Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{[]Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tc := range cases {
		probes := make([]Prober, len(tc.statuses))
		for i, st := range tc.statuses {
			probes[i] = stubProbe{name: string(rune('a' + i)), status: st}
		}
		m := NewMonitor(probes, nil, nil, time.Minute)
		m.Start(context.Background())
		got := m.RunOnce(context.Background())
		m.Stop()
		if got.Overall != tc.want {
			t.Errorf("%v: overall = %s, want %s", tc.statuses, got.Overall, tc.want)
		}
	}
}

func TestMemoryProbeHitRateFloor(t *testing.T) {
	p := &MemoryProbe{Cache: stubCache{rate: 0.1, n: 50}, HitRateFloor: 0.3}
	if res := p.Probe(context.Background()); res.Status != StatusDegraded {
		t.Errorf("low hit rate: %+v", res)
	}
	p = &MemoryProbe{Cache: stubCache{rate: 0.9, n: 50}, HitRateFloor: 0.3}
	if res := p.Probe(context.Background()); res.Status != StatusHealthy {
		t.Errorf("good hit rate: %+v", res)
	}
	// An empty cache is not a symptom.
	p = &MemoryProbe{Cache: stubCache{rate: 0, n: 0}, HitRateFloor: 0.3}
	if res := p.Probe(context.Background()); res.Status != StatusHealthy {
		t.Errorf("empty cache: %+v", res)
	}
}

type stubPinger struct {
	d   time.Duration
	err error
}

func (s stubPinger) Ping(_ context.Context) (time.Duration, error) { return s.d, s.err }

func TestLLMProbeBands(t *testing.T) {
	budget := 100 * time.Millisecond
	cases := []struct {
		pinger stubPinger
		want   Status
	}{
		{stubPinger{d: 20 * time.Millisecond}, StatusHealthy},
		{stubPinger{d: 500 * time.Millisecond}, StatusDegraded},
		{stubPinger{err: errors.New("refused")}, StatusUnhealthy},
	}
	for _, tc := range cases {
		p := &LLMProbe{Pinger: tc.pinger, Budget: budget}
		if res := p.Probe(context.Background()); res.Status != tc.want {
			t.Errorf("pinger %+v: %s, want %s", tc.pinger, res.Status, tc.want)
		}
	}
}

func TestBusProbeRoundtrip(t *testing.T) {
	p := &BusProbe{Bus: bus.New()}
	if res := p.Probe(context.Background()); res.Status != StatusHealthy {
		t.Errorf("roundtrip: %+v", res)
	}
}

func TestHealerSeverityPolicy(t *testing.T) {
	var ran []string
	mk := func(name string, sev Severity) Action {
		return Action{Name: name, Severity: sev, Run: func(_ context.Context) error {
			ran = append(ran, name)
			return nil
		}}
	}
	h := NewHealer(bus.New())
	h.Register(mk("clear-memory-cache", SeverityLow))
	h.Register(mk("restart-performance-monitoring", SeverityMedium))
	h.Register(mk("validate-system-integrity", SeverityHigh))

	out := h.Heal(context.Background(), StatusDegraded)
	if len(out.Executed) != 2 {
		t.Errorf("degraded executed %v", out.Executed)
	}
	for _, name := range ran {
		if name == "validate-system-integrity" {
			t.Error("high severity action ran on degraded")
		}
	}

	ran = nil
	out = h.Heal(context.Background(), StatusUnhealthy)
	if len(out.Executed) != 3 {
		t.Errorf("unhealthy executed %v", out.Executed)
	}

	if out := h.Heal(context.Background(), StatusHealthy); len(out.Executed) != 0 {
		t.Error("healthy must not heal")
	}
}

func TestHealerNeverRecurses(t *testing.T) {
	h := NewHealer(nil)
	var nested atomic.Int64
	h.Register(Action{Name: "recursive", Severity: SeverityLow, Run: func(ctx context.Context) error {
		out := h.Heal(ctx, StatusDegraded)
		if out.Skipped {
			nested.Add(1)
		}
		return nil
	}})
	h.Heal(context.Background(), StatusDegraded)
	if nested.Load() != 1 {
		t.Error("nested healing was not skipped")
	}
}

func TestHealerPanicIsolated(t *testing.T) {
	b := bus.New()
	var errorEvents atomic.Int64
	b.Subscribe(bus.TopicHealingError, func(_ context.Context, _ bus.Event) { errorEvents.Add(1) })

	h := NewHealer(b)
	h.Register(Action{Name: "explodes", Severity: SeverityLow, Run: func(_ context.Context) error {
		panic("boom")
	}})
	h.Register(Action{Name: "survivor", Severity: SeverityLow, Run: func(_ context.Context) error {
		return nil
	}})

	out := h.Heal(context.Background(), StatusDegraded)
	if len(out.Executed) != 1 || out.Executed[0] != "survivor" {
		t.Errorf("executed = %v", out.Executed)
	}
	if errorEvents.Load() != 1 {
		t.Error("panic must publish a healing error event")
	}
}

func TestMonitorHealsOnDegraded(t *testing.T) {
	var healed atomic.Int64
	h := NewHealer(nil)
	h.Register(Action{Name: "clear-memory-cache", Severity: SeverityLow, Run: func(_ context.Context) error {
		healed.Add(1)
		return nil
	}})

	b := bus.New()
	var completed atomic.Int64
	b.Subscribe(bus.TopicHealthCompleted, func(_ context.Context, _ bus.Event) { completed.Add(1) })

	m := NewMonitor([]Prober{
		stubProbe{name: "ok", status: StatusHealthy},
		stubProbe{name: "cache", status: StatusDegraded},
	}, h, b, time.Minute)
	m.Start(context.Background())
	s := m.RunOnce(context.Background())
	m.Stop()

	if s.Overall != StatusDegraded || healed.Load() != 1 || completed.Load() != 1 {
		t.Errorf("summary %+v, healed %d, completed %d", s.Overall, healed.Load(), completed.Load())
	}
}

func TestReportMarkdown(t *testing.T) {
	m := NewMonitor([]Prober{stubProbe{name: "bus", status: StatusHealthy}}, nil, nil, time.Minute)
	if !strings.Contains(m.Report(), "No health check") {
		t.Error("empty report wrong")
	}
	m.Start(context.Background())
	m.RunOnce(context.Background())
	m.Stop()
	rep := m.Report()
	for _, want := range []string{"# Health Report", "| bus | healthy |", "**healthy**"} {
		if !strings.Contains(rep, want) {
			t.Errorf("report missing %q:\n%s", want, rep)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := NewMonitor([]Prober{stubProbe{name: "bus", status: StatusHealthy}}, nil, nil, time.Minute)
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked with no scheduler running")
	}
}
