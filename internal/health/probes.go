package health

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"aegis/internal/bus"
	"aegis/internal/llm"
	"aegis/internal/memory"
)

// PerformanceProbe watches process-level signals: heap footprint and
// goroutine count.
type PerformanceProbe struct {
	HeapLimitMB    float64
	GoroutineLimit int
}

func NewPerformanceProbe() *PerformanceProbe {
	return &PerformanceProbe{HeapLimitMB: 1024, GoroutineLimit: 5000}
}

func (p *PerformanceProbe) Name() string { return "performance" }

func (p *PerformanceProbe) Probe(_ context.Context) ProbeResult {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := float64(ms.HeapAlloc) / (1 << 20)
	goroutines := runtime.NumGoroutine()

	res := ProbeResult{
		Name:   p.Name(),
		Status: StatusHealthy,
		Metrics: map[string]float64{
			"heap_mb":    heapMB,
			"goroutines": float64(goroutines),
		},
	}
	switch {
	case heapMB > p.HeapLimitMB || goroutines > p.GoroutineLimit:
		res.Status = StatusUnhealthy
		res.Message = fmt.Sprintf("resource pressure: heap %.0f MB, %d goroutines", heapMB, goroutines)
	case heapMB > p.HeapLimitMB/2 || goroutines > p.GoroutineLimit/2:
		res.Status = StatusDegraded
		res.Message = "resource usage above half budget"
	default:
		res.Message = "within budget"
	}
	return res
}

// cacheStats is the slice of the response cache the probe needs.
type cacheStats interface {
	HitRate() float64
	Len() int
}

// MemoryProbe checks the cache hit rate and store footprint.
type MemoryProbe struct {
	Cache        cacheStats
	Manager      *memory.Manager
	HitRateFloor float64
}

func (p *MemoryProbe) Name() string { return "memory" }

func (p *MemoryProbe) Probe(_ context.Context) ProbeResult {
	res := ProbeResult{Name: p.Name(), Status: StatusHealthy, Metrics: map[string]float64{}}

	if p.Manager != nil {
		stats := p.Manager.Stats()
		res.Metrics["episodic"] = float64(stats.EpisodicCount)
		res.Metrics["semantic"] = float64(stats.SemanticCount)
		res.Metrics["graph_nodes"] = float64(stats.GraphNodes)
	}
	if p.Cache == nil {
		res.Message = "no cache attached"
		return res
	}

	rate := p.Cache.HitRate()
	res.Metrics["cache_hit_rate"] = rate
	res.Metrics["cache_entries"] = float64(p.Cache.Len())
	if rate < p.HitRateFloor && p.Cache.Len() > 0 {
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("cache hit rate %.2f below floor %.2f", rate, p.HitRateFloor)
	} else {
		res.Message = "cache effective"
	}
	return res
}

// LLMProbe pings the model backend and bands the response time.
type LLMProbe struct {
	Pinger llm.Pinger
	Budget time.Duration
}

func (p *LLMProbe) Name() string { return "llm" }

func (p *LLMProbe) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{Name: p.Name(), Metrics: map[string]float64{}}
	if p.Pinger == nil {
		res.Status = StatusDegraded
		res.Message = "no backend configured"
		return res
	}
	elapsed, err := p.Pinger.Ping(ctx)
	res.Metrics["ping_ms"] = float64(elapsed.Milliseconds())
	switch {
	case err != nil:
		res.Status = StatusUnhealthy
		res.Message = "backend unreachable: " + err.Error()
	case elapsed > p.Budget:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("slow backend: %s over %s budget", elapsed, p.Budget)
	default:
		res.Status = StatusHealthy
		res.Message = "backend responsive"
	}
	return res
}

// BusProbe performs a synthetic publish/subscribe roundtrip.
type BusProbe struct {
	Bus *bus.Bus
}

const busProbeTopic = "health.probe.roundtrip"

func (p *BusProbe) Name() string { return "bus" }

func (p *BusProbe) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{Name: p.Name()}
	if p.Bus == nil {
		res.Status = StatusUnhealthy
		res.Message = "no bus"
		return res
	}
	var delivered atomic.Bool
	sub := p.Bus.Subscribe(busProbeTopic, func(_ context.Context, _ bus.Event) {
		delivered.Store(true)
	})
	defer p.Bus.Unsubscribe(busProbeTopic, sub)

	p.Bus.Publish(ctx, bus.Event{Topic: busProbeTopic})
	if !delivered.Load() {
		res.Status = StatusUnhealthy
		res.Message = "synthetic event not delivered"
		return res
	}
	res.Status = StatusHealthy
	res.Message = "roundtrip delivered"
	return res
}
