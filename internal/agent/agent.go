// Package agent assembles the runtime: memory, cache, pipeline, reasoning,
// tools, health, learning, auth and audit behind a single surface the CLI
// and service layer call into.
package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"

	"aegis/internal/aerr"
	"aegis/internal/audit"
	"aegis/internal/auth"
	"aegis/internal/bus"
	"aegis/internal/cag"
	"aegis/internal/config"
	"aegis/internal/embedding"
	"aegis/internal/health"
	"aegis/internal/knowledge"
	"aegis/internal/learning"
	"aegis/internal/llm"
	"aegis/internal/logging"
	"aegis/internal/memory"
	"aegis/internal/metrics"
	"aegis/internal/pipeline"
	"aegis/internal/reasoning"
	"aegis/internal/resilience"
	"aegis/internal/secure"
	"aegis/internal/tools"
	"aegis/internal/vector"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	fileCache = "cache.json"

	// envAdminPassword seeds the first admin account on an empty user store.
	envAdminPassword = "ADMIN_PASSWORD"
)

// Options configures New. Config falls back to defaults; LLM and Engine
// override the HTTP backends, which tests rely on.
type Options struct {
	Config    *config.Config
	MasterKey []byte
	LLM       llm.Client
	Engine    embedding.Engine
}

// Agent owns every subsystem. Public methods are safe for concurrent use;
// calls sharing a session id execute serially.
type Agent struct {
	cfg *config.Config
	bus *bus.Bus

	engine  embedding.Engine
	vec     vector.Store
	mem     *memory.Manager
	cache   *cag.Cache
	catalog *knowledge.Catalog
	pipe    *pipeline.Pipeline

	planner  *reasoning.Planner
	executor *reasoning.Executor

	registry *tools.Registry
	gate     *tools.Gate
	runner   *tools.Runner

	llm     llm.Client
	monitor *health.Monitor
	healer  *health.Healer
	loop    *learning.Loop
	auth    *auth.Service
	audit   *audit.Log
	metrics *metrics.Metrics

	memCodec  *secure.Codec
	cacheFile string

	sessMu   sync.Mutex
	sessions map[string]*sync.Mutex

	missionMu sync.Mutex
	missions  map[string]*Mission
}

// New wires the full component tree. The master key gates every encrypted
// store; a short key is a ConfigError before anything touches disk.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	memCodec, err := secure.NewCodec(opts.MasterKey, "memory")
	if err != nil {
		return nil, err
	}
	authCodec, err := secure.NewCodec(opts.MasterKey, "auth")
	if err != nil {
		return nil, err
	}
	auditCodec, err := secure.NewCodec(opts.MasterKey, "audit")
	if err != nil {
		return nil, err
	}
	learnCodec, err := secure.NewCodec(opts.MasterKey, "learning")
	if err != nil {
		return nil, err
	}
	signKey, err := secure.DeriveKey(opts.MasterKey, "session-tokens")
	if err != nil {
		return nil, err
	}

	b := bus.New()

	engine := opts.Engine
	if engine == nil {
		engine = embedding.NewRemoteEngine(cfg.LLM.APIURL, cfg.LLM.EmbeddingDimensions, cfg.LLM.TimeoutDuration())
	}
	vec, err := vector.New(cfg.Memory.VectorStore, engine, cfg.Memory.ServerURL, cfg.Memory.SQLPath)
	if err != nil {
		return nil, err
	}

	memDir := cfg.Memory.PersistencePath
	if memDir == "" {
		memDir = filepath.Join(cfg.DataDir, "memory")
	}
	mem := memory.NewManager(memory.ManagerOptions{
		Dir:                   memDir,
		Codec:                 memCodec,
		Vector:                vec,
		Bus:                   b,
		Semantic:              memory.NewSemanticStore(engine),
		WorkingMemoryCapacity: cfg.Memory.WorkingMemoryCapacity,
	})

	cache := cag.NewCache(cag.Options{
		MaxEntries:          cfg.Memory.CacheSize,
		TTL:                 cfg.Memory.CacheTTLDuration(),
		SimilarityThreshold: cfg.CAG.SimilarityThreshold,
		Engine:              engine,
		Bus:                 b,
	})
	mem.SetCacheSeeder(cache)
	mem.SetRetrievalCache(cache)

	catalog := knowledge.NewCatalog(mem.Graph, engine)

	client := opts.LLM
	if client == nil {
		client = llm.NewHTTPClient(cfg.LLM.APIURL, cfg.LLM.MaxTokens, cfg.LLM.TimeoutDuration())
	}

	pipe := pipeline.New(pipeline.Options{
		Cache:           cache,
		Memory:          mem,
		Catalog:         catalog,
		LLM:             client,
		Bucket:          resilience.NewTokenBucket(cfg.RateLimits.LLM.Capacity, cfg.RateLimits.LLM.RefillRPS),
		Breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name:             "llm",
			FailureThreshold: cfg.RateLimits.BreakerFailureThreshold,
			ResetTimeout:     cfg.RateLimits.BreakerResetTimeoutDuration(),
			HalfOpenRequests: cfg.RateLimits.BreakerHalfOpenRequests,
		}),
		Retry:           resilience.DefaultRetryPolicy(),
		Bus:             b,
		MaxContextChars: cfg.LLM.MaxContextChars,
	})

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)
	gate := tools.NewGate(cfg.Runtime)
	runner := tools.NewRunner(registry, gate,
		resilience.NewKeyedWindows(cfg.RateLimits.Tool.MaxRequests, cfg.RateLimits.Tool.WindowDuration()), b)

	executor := reasoning.NewExecutor(reasoning.ExecutorOptions{
		Answerer:  pipe,
		Tools:     runner,
		Retriever: mem,
		MaxSteps:  cfg.Reasoning.MaxSteps,
		Timeout:   cfg.Reasoning.TimeoutDuration(),
	})

	auditLog := audit.NewLog(audit.Options{
		Path:  filepath.Join(cfg.DataDir, "logs", "audit.log"),
		Codec: auditCodec,
		Bus:   b,
	})

	authSvc, err := auth.NewService(auth.Options{
		Dir:     filepath.Join(cfg.DataDir, "auth"),
		Codec:   authCodec,
		Config:  cfg.Auth,
		SignKey: signKey,
		Auditor: auditLog,
	})
	if err != nil {
		return nil, err
	}

	loop := learning.NewLoop(learning.Options{
		Alpha:        cfg.Learning.Rate,
		HistoryLimit: cfg.Learning.HistoryLimit,
		Path:         filepath.Join(cfg.DataDir, "learning", "learning-history.json"),
		Codec:        learnCodec,
		Bus:          b,
	})

	a := &Agent{
		cfg:       cfg,
		bus:       b,
		engine:    engine,
		vec:       vec,
		mem:       mem,
		cache:     cache,
		catalog:   catalog,
		pipe:      pipe,
		planner:   reasoning.NewPlanner(engine, cfg.Reasoning),
		executor:  executor,
		registry:  registry,
		gate:      gate,
		runner:    runner,
		llm:       client,
		loop:      loop,
		auth:      authSvc,
		audit:     auditLog,
		metrics:   metrics.New(),
		memCodec:  memCodec,
		cacheFile: filepath.Join(memDir, fileCache),
		sessions:  make(map[string]*sync.Mutex),
		missions:  make(map[string]*Mission),
	}

	a.healer = a.buildHealer(b)
	a.monitor = health.NewMonitor(a.buildProbes(), a.healer, b, cfg.Health.IntervalDuration())
	a.wireMetrics()
	return a, nil
}

// Initialize restores every persisted store. A store that fails to
// decrypt aborts startup: the failure is audited and surfaced so the
// process can exit with the persistence code.
func (a *Agent) Initialize(ctx context.Context) error {
	if err := a.mem.Initialize(ctx); err != nil {
		if aerr.Is(err, aerr.KindPersistenceCorrupt) {
			a.audit.Record(ctx, "system", "startup.persistence.corrupt", "memory", false,
				map[string]string{"error": err.Error()})
		}
		return err
	}

	if blob, err := a.memCodec.ReadFile(a.cacheFile); err == nil {
		if err := a.cache.Import(blob); err != nil {
			a.audit.Record(ctx, "system", "startup.persistence.corrupt", "cache", false,
				map[string]string{"error": err.Error()})
			return err
		}
	} else if !aerr.Is(err, aerr.KindNotFound) {
		a.audit.Record(ctx, "system", "startup.persistence.corrupt", "cache", false,
			map[string]string{"error": err.Error()})
		return err
	}

	if err := a.audit.Load(); err != nil {
		return err
	}
	if err := a.auth.Load(); err != nil {
		a.audit.Record(ctx, "system", "startup.persistence.corrupt", "auth", false,
			map[string]string{"error": err.Error()})
		return err
	}
	a.loop.Load()

	if err := a.catalog.LoadBuiltins(ctx); err != nil {
		return err
	}
	return a.bootstrapAdmin(ctx)
}

// bootstrapAdmin seeds the first admin account from the environment when
// the user store is empty. Absence of the variable on a populated store is
// normal; absence on an empty store leaves the runtime without accounts,
// which the caller surfaces.
func (a *Agent) bootstrapAdmin(ctx context.Context) error {
	if a.auth.UserCount() > 0 {
		return nil
	}
	password := os.Getenv(envAdminPassword)
	if password == "" {
		logging.Get(logging.CategoryAuth).Warn("user store empty and ADMIN_PASSWORD unset; no accounts available")
		return nil
	}
	_, err := a.auth.CreateUser("admin", password, "admin",
		[]auth.Permission{{Resource: "*", Action: "*"}})
	if err != nil {
		return err
	}
	a.audit.Record(ctx, "system", "bootstrap.admin", "users", true, nil)
	return nil
}

// Start launches the periodic health scheduler.
func (a *Agent) Start(ctx context.Context) {
	a.monitor.Start(ctx)
}

// Stop halts the scheduler and snapshots every store.
func (a *Agent) Stop(ctx context.Context) error {
	a.monitor.Stop()
	return a.Persist(ctx)
}

// Persist snapshots the memory stores, the response cache and the auth
// store concurrently. Snapshots are crash-consistent per store, not
// across stores.
func (a *Agent) Persist(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.mem.Persist(ctx) })
	g.Go(func() error {
		blob, err := a.cache.Export()
		if err != nil {
			return err
		}
		return a.memCodec.WriteFile(a.cacheFile, blob)
	})
	g.Go(func() error { return a.auth.Persist() })
	return g.Wait()
}

// SetRuntime applies a hot-reloaded runtime block: the permission gate
// picks it up immediately, and subscribers learn about it on the bus.
func (a *Agent) SetRuntime(rt config.RuntimeConfig) {
	a.gate.SetRuntime(rt)
	a.cfg.Runtime = rt
	a.bus.Publish(context.Background(), bus.Event{Topic: bus.TopicConfigReloaded, Payload: map[string]any{
		"mode":        string(rt.Mode),
		"simulateAll": rt.SimulateAll,
	}})
}

// Auth exposes the authentication service for the CLI/service layer.
func (a *Agent) Auth() *auth.Service { return a.auth }

// Audit exposes the audit log for queries.
func (a *Agent) Audit() *audit.Log { return a.audit }

// Metrics exposes the Prometheus bundle for the /metrics endpoint.
func (a *Agent) Metrics() *metrics.Metrics { return a.metrics }

// Bus exposes the event bus for additional subscribers.
func (a *Agent) Bus() *bus.Bus { return a.bus }

// HealthCheck runs every probe immediately and returns the summary.
func (a *Agent) HealthCheck(ctx context.Context) health.Summary {
	return a.monitor.RunOnce(ctx)
}

// HealthReport renders the latest summary as Markdown.
func (a *Agent) HealthReport() string { return a.monitor.Report() }

// TriggerSelfHealing runs the healing actions called for by the last
// health verdict. With no completed check yet it assumes degraded so a
// manual trigger always exercises the low and medium actions.
func (a *Agent) TriggerSelfHealing(ctx context.Context) health.HealingOutcome {
	last := a.monitor.Last()
	overall := last.Overall
	if last.At.IsZero() || overall == health.StatusHealthy {
		overall = health.StatusDegraded
	}
	return a.healer.Heal(ctx, overall)
}

func (a *Agent) buildProbes() []health.Prober {
	probes := []health.Prober{
		health.NewPerformanceProbe(),
		&health.MemoryProbe{
			Cache:        a.cache,
			Manager:      a.mem,
			HitRateFloor: a.cfg.Health.CacheHitRateFloor,
		},
		&health.BusProbe{Bus: a.bus},
	}
	if pinger, ok := a.llm.(llm.Pinger); ok {
		probes = append(probes, &health.LLMProbe{
			Pinger: pinger,
			Budget: a.cfg.Health.LLMPingBudgetDuration(),
		})
	}
	return probes
}

func (a *Agent) buildHealer(b *bus.Bus) *health.Healer {
	h := health.NewHealer(b)
	h.Register(health.Action{
		Name:     "clear-memory-cache",
		Severity: health.SeverityLow,
		Run: func(_ context.Context) error {
			removed := a.cache.Clear()
			logging.Get(logging.CategoryHealth).Info("response cache cleared",
				zap.Int("removed", removed))
			return nil
		},
	})
	h.Register(health.Action{
		Name:     "restart-performance-monitoring",
		Severity: health.SeverityMedium,
		Run: func(_ context.Context) error {
			runtime.GC()
			logging.Get(logging.CategoryHealth).Info("performance baseline reset",
				zap.Int("goroutines", runtime.NumGoroutine()))
			return nil
		},
	})
	h.Register(health.Action{
		Name:     "optimize-memory-usage",
		Severity: health.SeverityMedium,
		Run: func(_ context.Context) error {
			a.mem.Graph.Compact()
			debug.FreeOSMemory()
			return nil
		},
	})
	h.Register(health.Action{
		Name:     "validate-system-integrity",
		Severity: health.SeverityHigh,
		Run: func(ctx context.Context) error {
			if _, err := a.cache.Export(); err != nil {
				return err
			}
			return a.mem.Persist(ctx)
		},
	})
	return h
}

// wireMetrics feeds the Prometheus instruments from bus events so no
// component depends on the metrics package directly.
func (a *Agent) wireMetrics() {
	m := a.metrics
	a.bus.Subscribe(bus.TopicCAGHit, func(_ context.Context, ev bus.Event) {
		typ, _ := ev.Payload["type"].(string)
		if typ == "" {
			typ = "exact"
		}
		m.CacheHits.WithLabelValues(typ).Inc()
	})
	a.bus.Subscribe(bus.TopicCAGMiss, func(_ context.Context, _ bus.Event) {
		m.CacheMisses.Inc()
	})
	a.bus.Subscribe(bus.TopicAgentResponse, func(_ context.Context, ev bus.Event) {
		outcome := "generated"
		if cached, _ := ev.Payload["cached"].(bool); cached {
			outcome = "cached"
		}
		m.LLMCalls.WithLabelValues(outcome).Inc()
		if outcome == "generated" {
			if ms, ok := ev.Payload["durationMs"].(float64); ok {
				m.LLMDuration.Observe(ms / 1000)
			}
		}
	})
	a.bus.Subscribe(bus.TopicAgentError, func(_ context.Context, _ bus.Event) {
		m.LLMCalls.WithLabelValues("error").Inc()
	})
	a.bus.Subscribe(bus.TopicHealthCompleted, func(_ context.Context, _ bus.Event) {
		for _, p := range a.monitor.Last().Probes {
			m.HealthStatus.WithLabelValues(p.Name).Set(statusValue(p.Status))
		}
	})
	a.bus.Subscribe(bus.TopicLearningEntry, func(_ context.Context, _ bus.Event) {
		rolling := a.loop.Rolling()
		m.LearningEMA.WithLabelValues("successRate").Set(rolling.SuccessRate)
		m.LearningEMA.WithLabelValues("accuracy").Set(rolling.Accuracy)
		m.LearningEMA.WithLabelValues("relevance").Set(rolling.Relevance)
		m.LearningEMA.WithLabelValues("efficiency").Set(rolling.Efficiency)
	})
}

func statusValue(s health.Status) float64 {
	switch s {
	case health.StatusDegraded:
		return 1
	case health.StatusUnhealthy:
		return 2
	default:
		return 0
	}
}

// sessionLock returns the mutex serializing one session's interactions.
func (a *Agent) sessionLock(id string) *sync.Mutex {
	if id == "" {
		id = "default"
	}
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	mu, ok := a.sessions[id]
	if !ok {
		mu = &sync.Mutex{}
		a.sessions[id] = mu
	}
	return mu
}
