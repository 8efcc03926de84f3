// Package learning maintains rolling interaction metrics and derives
// improvement hints from feedback.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/logging"
	"aegis/internal/secure"

	"go.uber.org/zap"
)

// Metrics are per-interaction quality scores in [0,1].
type Metrics struct {
	SuccessRate float64 `json:"successRate"`
	Accuracy    float64 `json:"accuracy"`
	Relevance   float64 `json:"relevance"`
	Efficiency  float64 `json:"efficiency"`
}

// Entry is one recorded interaction with its metric sample and the
// improvements derived from it.
type Entry struct {
	TS            int64    `json:"ts"`
	Input         string   `json:"input"`
	ResultSummary string   `json:"resultSummary"`
	Feedback      string   `json:"feedback,omitempty"`
	Metrics       Metrics  `json:"metrics"`
	Improvements  []string `json:"improvements,omitempty"`
}

// Options configures NewLoop.
type Options struct {
	Alpha        float64
	HistoryLimit int
	Path         string
	Codec        *secure.Codec // nil writes plaintext
	Bus          *bus.Bus
}

// Loop is the feedback/learning component. Rolling metrics move by EMA;
// history is a FIFO-capped entry list persisted best-effort after every
// record.
type Loop struct {
	mu      sync.Mutex
	rolling Metrics
	history []Entry

	alpha float64
	limit int
	path  string
	codec *secure.Codec
	bus   *bus.Bus
}

// NewLoop builds a loop; zero options default to alpha 0.1 and a
// 1000-entry history.
func NewLoop(opts Options) *Loop {
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = 0.1
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1000
	}
	return &Loop{
		rolling: Metrics{SuccessRate: 0.5, Accuracy: 0.5, Relevance: 0.5, Efficiency: 0.5},
		alpha:   opts.Alpha,
		limit:   opts.HistoryLimit,
		path:    opts.Path,
		codec:   opts.Codec,
		bus:     opts.Bus,
	}
}

// Record scores one interaction, folds the sample into the rolling
// metrics, appends the entry and persists best-effort.
func (l *Loop) Record(ctx context.Context, input, output string, genErr error, feedback string) Entry {
	sample := scoreInteraction(input, output, genErr)
	improvements := deriveImprovements(sample, feedback)

	summary := output
	if len(summary) > 120 {
		summary = summary[:120]
	}
	entry := Entry{
		TS:            time.Now().UnixMilli(),
		Input:         input,
		ResultSummary: summary,
		Feedback:      feedback,
		Metrics:       sample,
		Improvements:  improvements,
	}

	l.mu.Lock()
	l.rolling = ema(l.rolling, sample, l.alpha)
	l.history = append(l.history, entry)
	if len(l.history) > l.limit {
		l.history = l.history[len(l.history)-l.limit:]
	}
	l.mu.Unlock()

	if err := l.persist(); err != nil {
		logging.Get(logging.CategoryLearning).Warn("learning persist degraded", zap.Error(err))
	}

	if l.bus != nil {
		l.bus.Publish(ctx, bus.Event{Topic: bus.TopicLearningEntry, Payload: map[string]any{
			"metrics":      sample,
			"improvements": improvements,
		}})
		if feedback != "" {
			l.bus.Publish(ctx, bus.Event{Topic: bus.TopicLearningFeed, Payload: map[string]any{
				"feedback": feedback,
			}})
		}
	}
	return entry
}

// Rolling returns the current EMA metrics.
func (l *Loop) Rolling() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rolling
}

// History returns a copy of the entries, oldest first.
func (l *Loop) History() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.history))
	copy(out, l.history)
	return out
}

type snapshot struct {
	Rolling Metrics `json:"rolling"`
	History []Entry `json:"history"`
}

// Load restores a previous snapshot. Missing files are a clean start;
// unreadable ones are logged and skipped, never fatal.
func (l *Loop) Load() {
	if l.path == "" {
		return
	}
	var raw []byte
	var err error
	if l.codec != nil {
		raw, err = l.codec.ReadFile(l.path)
	} else {
		raw, err = os.ReadFile(l.path)
	}
	if err != nil {
		if !os.IsNotExist(err) && !aerr.Is(err, aerr.KindNotFound) {
			logging.Get(logging.CategoryLearning).Warn("learning history unreadable", zap.Error(err))
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logging.Get(logging.CategoryLearning).Warn("learning history corrupt", zap.Error(err))
		return
	}
	l.mu.Lock()
	l.rolling = snap.Rolling
	l.history = snap.History
	if len(l.history) > l.limit {
		l.history = l.history[len(l.history)-l.limit:]
	}
	l.mu.Unlock()
}

func (l *Loop) persist() error {
	if l.path == "" {
		return nil
	}
	l.mu.Lock()
	snap := snapshot{Rolling: l.rolling, History: l.history}
	l.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if l.codec != nil {
		return l.codec.WriteFile(l.path, raw)
	}
	return os.WriteFile(l.path, raw, 0o600)
}

// ema folds one sample into the rolling metrics.
func ema(old, sample Metrics, alpha float64) Metrics {
	mix := func(o, s float64) float64 { return o*(1-alpha) + s*alpha }
	return Metrics{
		SuccessRate: mix(old.SuccessRate, sample.SuccessRate),
		Accuracy:    mix(old.Accuracy, sample.Accuracy),
		Relevance:   mix(old.Relevance, sample.Relevance),
		Efficiency:  mix(old.Efficiency, sample.Efficiency),
	}
}

var errorTokens = []string{"error", "failed", "cannot", "unable to"}

// scoreInteraction applies the rule-based heuristics: error signals drop
// success and accuracy, token overlap with the input approximates
// relevance, and length bands approximate efficiency.
func scoreInteraction(input, output string, genErr error) Metrics {
	m := Metrics{SuccessRate: 1, Accuracy: 0.9, Relevance: 0.5, Efficiency: 1}

	lower := strings.ToLower(output)
	if genErr != nil {
		m.SuccessRate, m.Accuracy = 0, 0
	} else {
		for _, tok := range errorTokens {
			if strings.Contains(lower, tok) {
				m.SuccessRate, m.Accuracy = 0.4, 0.5
				break
			}
		}
	}

	inTokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(input)) {
		inTokens[t] = true
	}
	if len(inTokens) > 0 {
		matched := 0
		for t := range inTokens {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		m.Relevance = float64(matched) / float64(len(inTokens))
	}

	switch n := len(output); {
	case n == 0:
		m.Efficiency = 0
	case n < 80:
		m.Efficiency = 0.6
	case n <= 2000:
		m.Efficiency = 1
	default:
		m.Efficiency = 0.5
	}
	return m
}

// feedbackHints maps structured feedback phrases to improvement strings.
var feedbackHints = []struct {
	phrase string
	hint   string
}{
	{"inaccurate", "verify claims against retrieved sources before answering"},
	{"wrong", "verify claims against retrieved sources before answering"},
	{"too long", "tighten responses; lead with the direct answer"},
	{"unclear", "structure answers with the conclusion first"},
	{"too slow", "prefer cached and retrieved context over regeneration"},
}

func deriveImprovements(m Metrics, feedback string) []string {
	var out []string
	if m.SuccessRate < 0.7 {
		out = append(out, "reduce failed generations: check backend health before answering")
	}
	if m.Accuracy < 0.7 {
		out = append(out, "raise accuracy: ground answers in retrieval hits")
	}
	if m.Relevance < 0.7 {
		out = append(out, "improve relevance: address the query terms directly")
	}
	if m.Efficiency < 0.7 {
		out = append(out, "adjust response length toward the expected band")
	}

	lower := strings.ToLower(feedback)
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s] = true
	}
	for _, fh := range feedbackHints {
		if strings.Contains(lower, fh.phrase) && !seen[fh.hint] {
			out = append(out, fh.hint)
			seen[fh.hint] = true
		}
	}
	return out
}

// String renders metrics for logs.
func (m Metrics) String() string {
	return fmt.Sprintf("success=%.2f accuracy=%.2f relevance=%.2f efficiency=%.2f",
		m.SuccessRate, m.Accuracy, m.Relevance, m.Efficiency)
}
