package agent

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/knowledge"
	"aegis/internal/logging"
	"aegis/internal/memory"
	"aegis/internal/pipeline"
	"aegis/internal/reasoning"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessOptions controls one Process call.
type ProcessOptions struct {
	SessionID     string
	Strategy      string // empty uses the configured strategy
	ApprovalToken string
}

// Performance summarizes the run for the caller.
type Performance struct {
	Duration  time.Duration `json:"duration"`
	Steps     int           `json:"steps"`
	Truncated bool          `json:"truncated"`
	Strategy  string        `json:"strategy"`
}

// Response is the outcome of Process.
type Response struct {
	RequestID      string                 `json:"requestId"`
	Text           string                 `json:"text"`
	Reasoning      []reasoning.StepResult `json:"reasoning"`
	ToolCalls      []string               `json:"toolCalls,omitempty"`
	Performance    Performance            `json:"performance"`
	MemorySnapshot memory.Stats           `json:"memorySnapshot"`
}

// Process plans and executes one interaction. Calls sharing a session id
// run serially; distinct sessions run concurrently. Internal failures are
// surfaced as an opaque request id correlating to the audit trail.
func (a *Agent) Process(ctx context.Context, input string, opts ProcessOptions) (*Response, error) {
	const op = "agent.Process"
	if strings.TrimSpace(input) == "" {
		return nil, aerr.E(aerr.KindValidation, op, "empty input")
	}

	mu := a.sessionLock(opts.SessionID)
	mu.Lock()
	defer mu.Unlock()

	reqID := uuid.NewString()
	start := time.Now()
	a.bus.Publish(ctx, bus.Event{Topic: bus.TopicAgentRequest, Payload: map[string]any{
		"requestId": reqID,
		"session":   opts.SessionID,
	}})

	strategy := opts.Strategy
	if strategy == "" {
		strategy = a.cfg.Reasoning.Strategy
	}

	plan, err := a.planner.Plan(ctx, input, strategy)
	if err != nil {
		a.finishProcess(ctx, reqID, opts.SessionID, input, "", err)
		return nil, err
	}

	exec, err := a.executor.Execute(ctx, plan, opts.ApprovalToken)
	a.metrics.PlanSteps.Observe(float64(len(exec.Steps)))

	if err == nil && exec.Output != "" {
		if _, serr := a.mem.StoreInteraction(ctx, input, exec.Output, "process"); serr != nil {
			logging.Get(logging.CategoryMemory).Warn("interaction not stored", zap.Error(serr))
		}
	}
	a.finishProcess(ctx, reqID, opts.SessionID, input, exec.Output, err)

	if err != nil {
		if aerr.KindOf(err) == aerr.KindInternal {
			logging.Get(logging.CategoryBoot).Error("internal failure",
				zap.String("requestId", reqID),
				zap.Error(err),
				zap.Stack("stack"))
			return nil, aerr.Errorf(aerr.KindInternal, op, "internal error, request %s", reqID)
		}
		return nil, err
	}

	return &Response{
		RequestID: reqID,
		Text:      exec.Output,
		Reasoning: exec.Steps,
		ToolCalls: toolCalls(plan),
		Performance: Performance{
			Duration:  time.Since(start),
			Steps:     len(exec.Steps),
			Truncated: exec.Truncated,
			Strategy:  plan.Strategy,
		},
		MemorySnapshot: a.mem.Stats(),
	}, nil
}

func (a *Agent) finishProcess(ctx context.Context, reqID, session, input, output string, err error) {
	a.loop.Record(ctx, input, output, err, "")
	a.audit.Record(ctx, actorFor(session), "agent.process", "agent", err == nil,
		map[string]string{"requestId": reqID})
}

func actorFor(session string) string {
	if session == "" {
		return "default"
	}
	return session
}

func toolCalls(p reasoning.Plan) []string {
	var calls []string
	for _, s := range p.Steps {
		if s.Kind == reasoning.StepTool {
			calls = append(calls, s.ToolName)
		}
	}
	return calls
}

// KnowledgeAnswer is the result of QueryKnowledge: the pipeline's answer
// joined with the structured catalog material the query matched.
type KnowledgeAnswer struct {
	Response        string        `json:"response"`
	Techniques      []string      `json:"techniques"`
	Tools           []string      `json:"tools"`
	CodeExamples    []string      `json:"codeExamples"`
	Confidence      float64       `json:"confidence"`
	Sources         []string      `json:"sources"`
	Cached          bool          `json:"cached,omitempty"`
	HitType         string        `json:"hitType,omitempty"`
	SimilarityScore float64       `json:"similarityScore,omitempty"`
	Degraded        bool          `json:"degraded,omitempty"`
	ProcessingTime  time.Duration `json:"processingTime"`
}

// QueryKnowledge answers through the full cache/RAG ladder and attaches
// the techniques, tools and code examples of the best catalog matches.
func (a *Agent) QueryKnowledge(ctx context.Context, query string, opts pipeline.QueryOptions) (*KnowledgeAnswer, error) {
	const op = "agent.QueryKnowledge"
	if strings.TrimSpace(query) == "" {
		return nil, aerr.E(aerr.KindValidation, op, "empty query")
	}
	start := time.Now()

	res, err := a.pipe.Answer(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	k := opts.K
	if k <= 0 {
		k = 3
	}
	scored, lerr := a.catalog.Lookup(ctx, query,
		knowledge.Filter{Category: opts.Category, Difficulty: opts.Difficulty}, k)
	if lerr != nil {
		logging.Get(logging.CategoryCAG).Warn("catalog lookup degraded", zap.Error(lerr))
	}

	ans := &KnowledgeAnswer{
		Response:        res.Answer,
		Confidence:      res.Confidence,
		Sources:         res.Sources,
		Cached:          res.Cached,
		HitType:         res.HitType,
		SimilarityScore: res.SimilarityScore,
		Degraded:        res.Degraded,
		ProcessingTime:  time.Since(start),
	}
	seen := make(map[string]bool)
	appendUnique := func(dst *[]string, items []string) {
		for _, it := range items {
			if it == "" || seen[it] {
				continue
			}
			seen[it] = true
			*dst = append(*dst, it)
		}
	}
	for _, s := range scored {
		appendUnique(&ans.Techniques, s.Entry.Techniques)
		appendUnique(&ans.Tools, s.Entry.Tools)
		appendUnique(&ans.CodeExamples, s.Entry.CodeExamples)
		appendUnique(&ans.Sources, s.Entry.Sources)
	}
	return ans, nil
}

// minChunkLen rejects fragments too short to retrieve against.
const minChunkLen = 80

// IngestReport counts what a document contributed.
type IngestReport struct {
	AcceptedChunks int `json:"acceptedChunks"`
	Rejected       int `json:"rejected"`
}

// Ingest splits a document on blank lines and indexes each chunk in the
// semantic store and the vector store. Chunks below the length floor are
// rejected, not truncated.
func (a *Agent) Ingest(ctx context.Context, docPath string) (IngestReport, error) {
	const op = "agent.Ingest"
	var report IngestReport

	raw, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return report, aerr.Errorf(aerr.KindNotFound, op, "document %s not found", docPath)
		}
		return report, aerr.E(aerr.KindInternal, op, err)
	}

	now := time.Now().Unix()
	for _, block := range strings.Split(string(raw), "\n\n") {
		chunk := strings.TrimSpace(block)
		if len(chunk) < minChunkLen {
			if chunk != "" {
				report.Rejected++
			}
			continue
		}
		id := uuid.NewString()
		if err := a.mem.Semantic.Upsert(ctx, id, chunk, now); err != nil {
			return report, err
		}
		if err := a.vec.Add(ctx, id, chunk); err != nil {
			return report, err
		}
		report.AcceptedChunks++
	}

	a.bus.Publish(ctx, bus.Event{Topic: bus.TopicMemoryUpdate, Payload: map[string]any{
		"source":   docPath,
		"accepted": report.AcceptedChunks,
		"rejected": report.Rejected,
	}})
	a.audit.Record(ctx, "system", "agent.ingest", docPath, true, map[string]string{
		"accepted": strconv.Itoa(report.AcceptedChunks),
		"rejected": strconv.Itoa(report.Rejected),
	})
	return report, nil
}
