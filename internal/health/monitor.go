package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/bus"
	"aegis/internal/logging"

	"go.uber.org/zap"
)

// Summary is one completed monitoring pass.
type Summary struct {
	Overall Status         `json:"overall"`
	Probes  []ProbeResult  `json:"probes"`
	Healing HealingOutcome `json:"healing"`
	At      time.Time      `json:"at"`
}

// Monitor runs probes on a schedule, aggregates them, and hands the
// verdict to the healer.
type Monitor struct {
	probes   []Prober
	healer   *Healer
	bus      *bus.Bus
	interval time.Duration

	mu   sync.RWMutex
	last Summary

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewMonitor wires a monitor; interval zero defaults to five minutes.
func NewMonitor(probes []Prober, healer *Healer, b *bus.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		probes:   probes,
		healer:   healer,
		bus:      b,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RunOnce executes every probe in parallel, aggregates, heals if needed,
// and publishes health.check.completed.
func (m *Monitor) RunOnce(ctx context.Context) Summary {
	results := make([]ProbeResult, len(m.probes))
	var wg sync.WaitGroup
	for i, p := range m.probes {
		wg.Add(1)
		go func(i int, p Prober) {
			defer wg.Done()
			results[i] = p.Probe(ctx)
		}(i, p)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overall := StatusHealthy
	for _, r := range results {
		if worse(r.Status, overall) {
			overall = r.Status
		}
	}

	summary := Summary{Overall: overall, Probes: results, At: time.Now()}
	if m.healer != nil {
		summary.Healing = m.healer.Heal(ctx, overall)
	}

	m.mu.Lock()
	m.last = summary
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(ctx, bus.Event{Topic: bus.TopicHealthCompleted, Payload: map[string]any{
			"overall": string(overall),
			"probes":  len(results),
			"healed":  len(summary.Healing.Executed),
		}})
	}
	logging.Get(logging.CategoryHealth).Debug("health check completed",
		zap.String("overall", string(overall)))
	return summary
}

// Start launches the periodic scheduler. Stop shuts it down.
func (m *Monitor) Start(ctx context.Context) {
	m.started.Store(true)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the scheduler and waits for it to exit. A monitor that
// was never started stops immediately.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// Last returns the most recent summary.
func (m *Monitor) Last() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Report renders the last summary as Markdown.
func (m *Monitor) Report() string {
	s := m.Last()
	var b strings.Builder
	b.WriteString("# Health Report\n\n")
	if s.At.IsZero() {
		b.WriteString("No health check has run yet.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Overall: **%s** (checked %s)\n\n", s.Overall, s.At.Format(time.RFC3339))
	b.WriteString("| Probe | Status | Message |\n|---|---|---|\n")
	for _, r := range s.Probes {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", r.Name, r.Status, r.Message)
	}
	if len(s.Healing.Executed) > 0 || len(s.Healing.Failed) > 0 {
		b.WriteString("\n## Healing\n")
		for _, a := range s.Healing.Executed {
			fmt.Fprintf(&b, "- %s: ok\n", a)
		}
		for _, a := range s.Healing.Failed {
			fmt.Fprintf(&b, "- %s: failed\n", a)
		}
	}
	return b.String()
}
