package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/cag"
	"aegis/internal/knowledge"
	"aegis/internal/llm"
	"aegis/internal/logging"
	"aegis/internal/memory"
	"aegis/internal/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultPreamble = "You are a cybersecurity assistant. Answer using the provided context snippets; cite nothing you cannot ground in them."

// semanticFallbackFloor is the minimum cache similarity accepted when the
// generator is unavailable.
const semanticFallbackFloor = 0.95

// QueryOptions controls a single Answer call.
type QueryOptions struct {
	NoCache    bool
	Debug      bool
	Category   string
	Difficulty string
	K          int
}

// canonical renders the options that affect the answer into the cache
// fingerprint. Debug and NoCache change caching, not content.
func (o QueryOptions) canonical() string {
	return fmt.Sprintf("cat=%s|diff=%s|k=%d", o.Category, o.Difficulty, o.K)
}

// Result is the outcome of one pipeline pass.
type Result struct {
	Answer          string
	Sources         []string
	Cached          bool
	HitType         string
	Confidence      float64
	SimilarityScore float64
	Degraded        bool
	Duration        time.Duration
}

// Options wires the pipeline's collaborators.
type Options struct {
	Cache   *cag.Cache
	Memory  *memory.Manager
	Catalog *knowledge.Catalog
	LLM     llm.Client
	Bucket  *resilience.TokenBucket
	Breaker *resilience.Breaker
	Retry   resilience.RetryPolicy
	Bus     *bus.Bus

	MaxContextChars int
	SystemPreamble  string
}

// Pipeline is the hybrid answer path: cache, then retrieval-augmented
// generation, then the degraded-cache fallback ladder.
type Pipeline struct {
	cache   *cag.Cache
	mem     *memory.Manager
	catalog *knowledge.Catalog
	llm     llm.Client
	bucket  *resilience.TokenBucket
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	bus     *bus.Bus

	maxContextChars int
	preamble        string
}

// New builds a pipeline. Cache, Memory and LLM are required; the rest
// degrade gracefully when absent.
func New(opts Options) *Pipeline {
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 6000
	}
	if opts.SystemPreamble == "" {
		opts.SystemPreamble = defaultPreamble
	}
	return &Pipeline{
		cache:           opts.Cache,
		mem:             opts.Memory,
		catalog:         opts.Catalog,
		llm:             opts.LLM,
		bucket:          opts.Bucket,
		breaker:         opts.Breaker,
		retry:           opts.Retry,
		bus:             opts.Bus,
		maxContextChars: opts.MaxContextChars,
		preamble:        opts.SystemPreamble,
	}
}

// Answer runs the full ladder for one query. Concurrent calls with the
// same normalized query share a single generation.
func (p *Pipeline) Answer(ctx context.Context, query string, opts QueryOptions) (Result, error) {
	start := time.Now()
	canon := opts.canonical()
	useCache := !opts.NoCache && !opts.Debug

	var res Result
	var err error
	if useCache {
		res, err = p.answerCached(ctx, query, canon, opts)
	} else {
		res, err = p.answerDirect(ctx, query, opts)
	}
	res.Duration = time.Since(start)
	if err != nil {
		p.publishError(ctx, query, err)
		return Result{Duration: res.Duration}, err
	}
	p.publishResponse(ctx, query, res)
	return res, nil
}

// AnswerText is the reduced surface consumed by the reasoning executor:
// one prompt in, final text out, default options.
func (p *Pipeline) AnswerText(ctx context.Context, prompt string) (string, error) {
	res, err := p.Answer(ctx, prompt, QueryOptions{})
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

func (p *Pipeline) answerCached(ctx context.Context, query, canon string, opts QueryOptions) (Result, error) {
	hit, err := p.cache.GetOrCompute(ctx, query, canon, func(ctx context.Context) (string, []string, float64, error) {
		return p.generate(ctx, query, opts)
	})
	if err != nil {
		return p.fallback(ctx, query, canon, err)
	}
	res := Result{
		Answer:     hit.Response,
		Sources:    hit.Sources,
		Confidence: hit.Confidence,
	}
	if hit.Type != "generated" {
		res.Cached = true
		res.HitType = hit.Type
		res.SimilarityScore = hit.Score
	}
	return res, nil
}

func (p *Pipeline) answerDirect(ctx context.Context, query string, opts QueryOptions) (Result, error) {
	text, sources, confidence, err := p.generate(ctx, query, opts)
	if err != nil {
		return Result{}, aerr.E(aerr.KindGenerationUnavailable, "pipeline.Answer", err)
	}
	return Result{Answer: text, Sources: sources, Confidence: confidence}, nil
}

// fallback is the ladder taken when generation fails: an exact cache entry
// wins, then a very close semantic entry marked degraded, then the typed
// failure.
func (p *Pipeline) fallback(ctx context.Context, query, canon string, cause error) (Result, error) {
	log := logging.Get(logging.CategoryPipeline)
	if hit, ok := p.cache.Exact(query, canon); ok {
		log.Warn("generation failed, serving exact cache entry", zap.Error(cause))
		return Result{Answer: hit.Response, Sources: hit.Sources, Cached: true,
			HitType: "exact", Confidence: hit.Confidence, SimilarityScore: 1}, nil
	}
	if hit, ok := p.cache.BestSemantic(ctx, query, semanticFallbackFloor); ok {
		log.Warn("generation failed, serving near-duplicate cache entry",
			zap.Float64("score", hit.Score), zap.Error(cause))
		return Result{Answer: hit.Response, Sources: hit.Sources, Cached: true, Degraded: true,
			HitType: "semantic", Confidence: hit.Confidence, SimilarityScore: hit.Score}, nil
	}
	return Result{}, aerr.E(aerr.KindGenerationUnavailable, "pipeline.Answer", cause)
}

// generate performs parallel retrieval, builds the augmented prompt, and
// calls the model under the limiter, breaker and retry schedule.
func (p *Pipeline) generate(ctx context.Context, query string, opts QueryOptions) (string, []string, float64, error) {
	snippets, sources, topScore := p.retrieve(ctx, query, opts)
	prompt := p.buildPrompt(query, snippets)

	var text string
	err := resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
		if p.bucket != nil {
			if err := p.bucket.Consume(ctx, 1); err != nil {
				return err
			}
		}
		call := func() (any, error) { return p.llm.GenerateWithSystem(ctx, p.preamble, prompt) }
		var out any
		var err error
		if p.breaker != nil {
			out, err = p.breaker.Execute(call)
		} else {
			out, err = call()
		}
		if err != nil {
			return err
		}
		text = out.(string)
		return nil
	})
	if err != nil {
		return "", nil, 0, err
	}
	return text, sources, deriveConfidence(topScore, text), nil
}

// retrieve fans out to memory and the knowledge catalog. Either branch may
// fail; retrieval degradation never blocks generation.
func (p *Pipeline) retrieve(ctx context.Context, query string, opts QueryOptions) ([]string, []string, float64) {
	k := opts.K
	if k <= 0 {
		k = 5
	}

	var memHits []memory.SearchResult
	var knowHits []knowledge.Scored

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.mem == nil {
			return nil
		}
		r, err := p.mem.RetrieveRelevant(gctx, query, memory.RetrieveOptions{Limit: k, UseCache: false})
		if err != nil {
			logging.Get(logging.CategoryPipeline).Warn("memory retrieval degraded", zap.Error(err))
			return nil
		}
		memHits = r.Memories
		return nil
	})
	g.Go(func() error {
		if p.catalog == nil {
			return nil
		}
		hits, err := p.catalog.Lookup(gctx, query, knowledge.Filter{
			Category:   opts.Category,
			Difficulty: opts.Difficulty,
		}, k)
		if err != nil {
			logging.Get(logging.CategoryPipeline).Warn("knowledge retrieval degraded", zap.Error(err))
			return nil
		}
		knowHits = hits
		return nil
	})
	g.Wait()

	var snippets, sources []string
	topScore := 0.0
	for _, h := range memHits {
		snippets = append(snippets, h.Text)
		sources = append(sources, "memory:"+h.ID)
		if h.Score > topScore {
			topScore = h.Score
		}
	}
	for _, h := range knowHits {
		snippets = append(snippets, h.Entry.Title+": "+h.Entry.Summary)
		sources = append(sources, "knowledge:"+h.Entry.ID)
		if h.Score > topScore {
			topScore = h.Score
		}
	}
	return snippets, sources, topScore
}

// buildPrompt assembles ranked snippets under the context budget, then the
// user query.
func (p *Pipeline) buildPrompt(query string, snippets []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	used := 0
	for _, s := range snippets {
		if used+len(s) > p.maxContextChars {
			break
		}
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteByte('\n')
		used += len(s)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// deriveConfidence blends the best retrieval score with response shape
// signals: very short or error-shaped outputs score low.
func deriveConfidence(topScore float64, text string) float64 {
	lengthSignal := 1.0
	if n := len(text); n < 40 {
		lengthSignal = float64(n) / 40
	}
	errorSignal := 0.0
	lower := strings.ToLower(text)
	for _, marker := range []string{"error", "cannot answer", "i don't know"} {
		if strings.Contains(lower, marker) {
			errorSignal = 1
			break
		}
	}
	c := 0.5*topScore + 0.3*lengthSignal + 0.2*(1-errorSignal)
	if c > 1 {
		c = 1
	}
	return c
}

func (p *Pipeline) publishResponse(ctx context.Context, query string, res Result) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, bus.Event{Topic: bus.TopicAgentResponse, Payload: map[string]any{
		"query":      query,
		"cached":     res.Cached,
		"hitType":    res.HitType,
		"degraded":   res.Degraded,
		"confidence": res.Confidence,
		"durationMs": float64(res.Duration.Milliseconds()),
	}})
}

func (p *Pipeline) publishError(ctx context.Context, query string, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, bus.Event{Topic: bus.TopicAgentError, Payload: map[string]any{
		"query": query,
		"kind":  string(aerr.KindOf(err)),
	}})
}
