package reasoning

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/logging"
	"aegis/internal/memory"

	"go.uber.org/zap"
)

// Answerer is the generation pipeline surface the executor needs for
// Reason steps.
type Answerer interface {
	AnswerText(ctx context.Context, prompt string) (string, error)
}

// ToolRunner executes gated tool calls.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]any, approvalToken string) (string, error)
}

// Retriever serves Retrieve steps.
type Retriever interface {
	SearchSimilar(ctx context.Context, query string, limit int) ([]memory.SearchResult, error)
}

// StepResult records one executed step.
type StepResult struct {
	Kind     StepKind      `json:"kind"`
	Detail   string        `json:"detail"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the executor's outcome: the final output, the step
// trace, and whether the run was cut short by the step cap or timeout.
type ExecutionResult struct {
	Output    string       `json:"output"`
	Steps     []StepResult `json:"steps"`
	Truncated bool         `json:"truncated"`
}

// Executor runs plans serially. A step's output lands in a scoped
// environment visible to later steps as $step1..$stepN.
type Executor struct {
	answerer  Answerer
	tools     ToolRunner
	retriever Retriever

	maxSteps int
	timeout  time.Duration
}

// ExecutorOptions wires an executor.
type ExecutorOptions struct {
	Answerer  Answerer
	Tools     ToolRunner
	Retriever Retriever
	MaxSteps  int
	Timeout   time.Duration
}

// NewExecutor builds an executor; zero caps default to 8 steps and 30s.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Executor{
		answerer:  opts.Answerer,
		tools:     opts.Tools,
		retriever: opts.Retriever,
		maxSteps:  opts.MaxSteps,
		timeout:   opts.Timeout,
	}
}

// Execute runs the plan. On timeout or step-cap overflow the partial
// trace comes back with Truncated set; a hard step failure surfaces as an
// error alongside the partial trace unless a following Verify step with
// onFail=continue absorbs it.
func (e *Executor) Execute(ctx context.Context, plan Plan, approvalToken string) (ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	log := logging.Get(logging.CategoryReasoning)
	var res ExecutionResult
	env := make(map[string]string)
	var lastOutput string
	var lastErr error

	steps := plan.Steps
	if len(steps) > e.maxSteps {
		steps = steps[:e.maxSteps]
		res.Truncated = true
	}

	for i, step := range steps {
		if ctx.Err() != nil {
			res.Truncated = true
			break
		}

		start := time.Now()
		var out string
		var err error

		switch step.Kind {
		case StepReason:
			out, err = e.answerer.AnswerText(ctx, expand(step.Prompt, env))
		case StepTool:
			out, err = e.tools.Run(ctx, step.ToolName, expandArgs(step.Args, env), approvalToken)
		case StepRetrieve:
			out, err = e.runRetrieve(ctx, expand(step.Query, env), step.K)
		case StepVerify:
			err = checkPredicate(step.Predicate, lastOutput, lastErr)
			if err != nil && step.OnFail == FailContinue {
				log.Debug("verify failed, continuing",
					zap.String("predicate", step.Predicate), zap.Error(err))
				lastErr = nil
				err = nil
				out = "verify failed (continuing)"
			} else if err == nil {
				out = "verify ok"
				lastErr = nil
			}
		default:
			err = aerr.Errorf(aerr.KindValidation, "reasoning.Execute", "unknown step kind %q", step.Kind)
		}

		sr := StepResult{Kind: step.Kind, Detail: step.describe(), Output: out, Duration: time.Since(start)}
		if err != nil {
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)

		if err != nil {
			if aerr.KindOf(err) == aerr.KindTimeout || ctx.Err() != nil {
				res.Truncated = true
				res.Output = lastOutput
				return res, nil
			}
			// A following Verify with onFail=continue absorbs the failure.
			if next := i + 1; next < len(steps) && steps[next].Kind == StepVerify && steps[next].OnFail == FailContinue {
				lastErr = err
				lastOutput = ""
				continue
			}
			res.Output = lastOutput
			return res, err
		}

		if step.Kind != StepVerify {
			lastOutput = out
			env[stepKey(len(res.Steps))] = out
		}
	}

	res.Output = lastOutput
	return res, nil
}

func (e *Executor) runRetrieve(ctx context.Context, query string, k int) (string, error) {
	if k <= 0 {
		k = 5
	}
	hits, err := e.retriever.SearchSimilar(ctx, query, k)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = h.Text
	}
	return strings.Join(lines, "\n"), nil
}

// checkPredicate evaluates a Verify predicate against the previous step.
// Supported: non-empty, no-error, contains:<substring>.
func checkPredicate(pred, lastOutput string, lastErr error) error {
	const op = "reasoning.Verify"
	switch {
	case pred == "non-empty":
		if lastErr != nil {
			return aerr.E(aerr.KindValidation, op, lastErr)
		}
		if strings.TrimSpace(lastOutput) == "" {
			return aerr.E(aerr.KindValidation, op, "previous step produced no output")
		}
	case pred == "no-error":
		if lastErr != nil {
			return aerr.E(aerr.KindValidation, op, lastErr)
		}
	case strings.HasPrefix(pred, "contains:"):
		want := strings.TrimPrefix(pred, "contains:")
		if !strings.Contains(lastOutput, want) {
			return aerr.Errorf(aerr.KindValidation, op, "output does not contain %q", want)
		}
	default:
		return aerr.Errorf(aerr.KindValidation, op, "unknown predicate %q", pred)
	}
	return nil
}

func stepKey(n int) string { return "$step" + strconv.Itoa(n) }

// expand substitutes longest tokens first so $step10 is never clobbered by
// a partial $step1 match.
func expand(s string, env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		s = strings.ReplaceAll(s, k, env[k])
	}
	return s
}

func expandArgs(args map[string]any, env map[string]string) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = expand(s, env)
		} else {
			out[k] = v
		}
	}
	return out
}

