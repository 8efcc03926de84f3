package reasoning

import (
	"context"
	"sort"
	"strings"

	"aegis/internal/aerr"
	"aegis/internal/config"
	"aegis/internal/embedding"
	"aegis/internal/logging"
	"aegis/internal/memory"

	"go.uber.org/zap"
)

// toolVerbs are the query words that suggest the user wants an action run
// rather than a pure explanation. Used by the auto-selection heuristic.
var toolVerbs = map[string]string{
	"scan":      "nmap",
	"enumerate": "nmap",
	"lookup":    "whois",
	"whois":     "whois",
	"validate":  "snort-rule-check",
	"check":     "snort-rule-check",
}

// Planner builds plans. It is stateless; configuration decides strategy
// shape.
type Planner struct {
	engine embedding.Engine
	cfg    config.ReasoningConfig
}

// NewPlanner builds a planner over the shared embedding engine.
func NewPlanner(engine embedding.Engine, cfg config.ReasoningConfig) *Planner {
	return &Planner{engine: engine, cfg: cfg}
}

// Plan produces a plan for the query. strategy may be a concrete strategy
// name or auto; unknown names are a ValidationError.
func (p *Planner) Plan(ctx context.Context, query, strategy string) (Plan, error) {
	if strategy == "" || strategy == config.StrategyAuto {
		strategy = p.selectStrategy(query)
	}
	switch strategy {
	case config.StrategyZeroShot:
		return p.zeroShot(query), nil
	case config.StrategyEvolutionary:
		return p.evolutionary(ctx, query)
	case config.StrategyFirstPrinciples:
		return p.firstPrinciples(query), nil
	}
	return Plan{}, aerr.Errorf(aerr.KindValidation, "reasoning.Plan", "unknown strategy %q", strategy)
}

// selectStrategy is the auto heuristic: tool verbs force evolutionary
// search over tool orderings, long analytical queries get first-principles
// when the depth budget allows, everything else is zero-shot.
func (p *Planner) selectStrategy(query string) string {
	words := strings.Fields(strings.ToLower(query))
	for _, w := range words {
		if _, ok := toolVerbs[strings.Trim(w, ".,!?")]; ok {
			return config.StrategyEvolutionary
		}
	}
	if len(words) > 12 && p.cfg.DepthBudget >= 3 {
		return config.StrategyFirstPrinciples
	}
	return config.StrategyZeroShot
}

func (p *Planner) zeroShot(query string) Plan {
	return Plan{
		Strategy: config.StrategyZeroShot,
		Steps:    []Step{{Kind: StepReason, Prompt: query}},
	}
}

// firstPrinciples decomposes the query into its core concepts (axioms) and
// emits a linear chain of derivations, each guarded by a verify step.
func (p *Planner) firstPrinciples(query string) Plan {
	concepts := memory.ExtractConcepts(query, p.cfg.DepthBudget)
	if len(concepts) == 0 {
		return p.zeroShot(query)
	}

	steps := []Step{{Kind: StepRetrieve, Query: query, K: 5}}
	for _, c := range concepts {
		steps = append(steps,
			Step{Kind: StepReason, Prompt: "define " + c + " from first principles", StrategyHint: "axiom"},
			Step{Kind: StepVerify, Predicate: "non-empty", OnFail: FailAbort},
		)
	}
	steps = append(steps, Step{Kind: StepReason, Prompt: "derive an answer to: " + query, StrategyHint: "derivation"})
	return Plan{Strategy: config.StrategyFirstPrinciples, Steps: steps}
}

// candidate pairs a plan with its fitness.
type candidate struct {
	plan    Plan
	fitness float64
}

// evolutionary searches over plan shapes: seed a population of skeletons,
// score each by embedding similarity between its description and the
// query, mutate the top K, and repeat until the generation budget runs out
// or fitness plateaus for two consecutive rounds. Ties keep insertion
// order because the sort is stable.
func (p *Planner) evolutionary(ctx context.Context, query string) (Plan, error) {
	const op = "reasoning.evolutionary"
	qv, err := p.engine.Embed(ctx, query)
	if err != nil {
		return Plan{}, aerr.E(aerr.KindBackendUnavailable, op, err)
	}

	pop := p.seedPopulation(query)
	if len(pop) > p.cfg.Population {
		pop = pop[:p.cfg.Population]
	}

	best := candidate{fitness: -1}
	plateau := 0
	for gen := 0; gen < p.cfg.Generations; gen++ {
		scored := make([]candidate, 0, len(pop))
		for _, plan := range pop {
			f, err := p.fitness(ctx, qv, plan)
			if err != nil {
				continue
			}
			scored = append(scored, candidate{plan: plan, fitness: f})
		}
		if len(scored) == 0 {
			return Plan{}, aerr.E(aerr.KindBackendUnavailable, op, "no candidate could be scored")
		}
		stableSortByFitness(scored)

		improvement := scored[0].fitness - best.fitness
		if scored[0].fitness > best.fitness {
			best = scored[0]
		}
		if improvement < p.cfg.PlateauEps {
			plateau++
			if plateau >= 2 {
				break
			}
		} else {
			plateau = 0
		}

		topK := p.cfg.TopK
		if topK > len(scored) {
			topK = len(scored)
		}
		pop = pop[:0]
		for _, c := range scored[:topK] {
			pop = append(pop, c.plan)
			pop = append(pop, mutate(c.plan, query)...)
		}
		if len(pop) > p.cfg.Population {
			pop = pop[:p.cfg.Population]
		}
	}

	logging.Get(logging.CategoryReasoning).Debug("evolutionary plan selected",
		zap.Float64("fitness", best.fitness), zap.Int("steps", len(best.plan.Steps)))
	return best.plan, nil
}

// seedPopulation builds deterministic initial skeletons: retrieval-first,
// tool-first when a verb maps to a tool, and a plain reasoning chain.
func (p *Planner) seedPopulation(query string) []Plan {
	reason := Step{Kind: StepReason, Prompt: query}
	retrieve := Step{Kind: StepRetrieve, Query: query, K: 5}
	verify := Step{Kind: StepVerify, Predicate: "non-empty", OnFail: FailContinue}

	seeds := []Plan{
		{Strategy: config.StrategyEvolutionary, Steps: []Step{retrieve, reason}},
		{Strategy: config.StrategyEvolutionary, Steps: []Step{reason}},
		{Strategy: config.StrategyEvolutionary, Steps: []Step{retrieve, reason, verify}},
	}
	if tool := matchTool(query); tool != "" {
		args := toolArgs(tool, query)
		seeds = append([]Plan{
			{Strategy: config.StrategyEvolutionary, Steps: []Step{
				{Kind: StepTool, ToolName: tool, Args: args}, verify, reason}},
			{Strategy: config.StrategyEvolutionary, Steps: []Step{
				retrieve, {Kind: StepTool, ToolName: tool, Args: args}, reason}},
		}, seeds...)
	}
	return seeds
}

// toolArgs fills a seeded tool step's required argument from the query
// text so the step passes schema validation.
func toolArgs(tool, query string) map[string]any {
	words := strings.Fields(query)
	pick := func(pred func(string) bool) string {
		for _, w := range words {
			w = strings.Trim(w, ".,!?")
			if pred(w) {
				return w
			}
		}
		if len(words) == 0 {
			return ""
		}
		return strings.Trim(words[len(words)-1], ".,!?")
	}
	switch tool {
	case "nmap":
		return map[string]any{"target": pick(func(w string) bool {
			return strings.Count(w, ".") >= 2 || strings.Contains(w, "/")
		})}
	case "whois":
		return map[string]any{"domain": pick(func(w string) bool {
			return strings.Contains(w, ".")
		})}
	case "snort-rule-check":
		return map[string]any{"rule": query}
	}
	return map[string]any{}
}

// mutate derives neighbors of a plan: drop a non-reason step, duplicate
// the retrieval, or append a verify guard.
func mutate(p Plan, query string) []Plan {
	var out []Plan

	for i, s := range p.Steps {
		if s.Kind != StepReason && len(p.Steps) > 1 {
			steps := make([]Step, 0, len(p.Steps)-1)
			steps = append(steps, p.Steps[:i]...)
			steps = append(steps, p.Steps[i+1:]...)
			out = append(out, Plan{Strategy: p.Strategy, Steps: steps})
			break
		}
	}

	if last := p.Steps[len(p.Steps)-1]; last.Kind != StepVerify {
		steps := append(append([]Step{}, p.Steps...),
			Step{Kind: StepVerify, Predicate: "non-empty", OnFail: FailContinue})
		out = append(out, Plan{Strategy: p.Strategy, Steps: steps})
	}

	steps := append([]Step{{Kind: StepRetrieve, Query: query, K: 3}}, p.Steps...)
	out = append(out, Plan{Strategy: p.Strategy, Steps: steps})
	return out
}

// fitness is the cosine similarity between the query embedding and the
// plan description embedding.
func (p *Planner) fitness(ctx context.Context, qv []float32, plan Plan) (float64, error) {
	pv, err := p.engine.Embed(ctx, plan.describe())
	if err != nil {
		return 0, err
	}
	return embedding.CosineSimilarity(qv, pv)
}

// stableSortByFitness orders descending, preserving insertion order on
// ties.
func stableSortByFitness(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].fitness > cs[j].fitness })
}

func matchTool(query string) string {
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if tool, ok := toolVerbs[strings.Trim(w, ".,!?")]; ok {
			return tool
		}
	}
	return ""
}
