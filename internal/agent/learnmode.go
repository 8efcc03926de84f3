package agent

import (
	"context"
	"strings"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/knowledge"
	"aegis/internal/pipeline"

	"github.com/google/uuid"
)

// Mission is one guided training exercise: a topic from the knowledge
// catalog broken into objectives the learner works through in order.
type Mission struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Topic      string    `json:"topic"`
	EntryID    string    `json:"entryId"`
	Objectives []string  `json:"objectives"`
	Progress   int       `json:"progress"`
	Completed  bool      `json:"completed"`
	StartedAt  time.Time `json:"startedAt"`
}

// maxObjectives bounds a mission so a single entry's technique list does
// not turn into an open-ended drill.
const maxObjectives = 5

// StartMission opens a mission on the closest catalog topic.
func (a *Agent) StartMission(ctx context.Context, sessionID, topic string) (*Mission, error) {
	const op = "agent.StartMission"
	if strings.TrimSpace(topic) == "" {
		return nil, aerr.E(aerr.KindValidation, op, "empty topic")
	}

	scored, err := a.catalog.Lookup(ctx, topic, knowledge.Filter{}, 1)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, aerr.Errorf(aerr.KindNotFound, op, "no catalog entry matches %q", topic)
	}
	entry := scored[0].Entry

	objectives := entry.Techniques
	if len(objectives) > maxObjectives {
		objectives = objectives[:maxObjectives]
	}
	if len(objectives) == 0 {
		objectives = []string{"summarize " + entry.Title}
	}

	m := &Mission{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Topic:      entry.Title,
		EntryID:    entry.ID,
		Objectives: objectives,
		StartedAt:  time.Now(),
	}
	a.missionMu.Lock()
	a.missions[m.ID] = m
	a.missionMu.Unlock()

	a.audit.Record(ctx, actorFor(sessionID), "mission.start", entry.ID, true,
		map[string]string{"missionId": m.ID})
	return m, nil
}

// StepOutcome grades one submitted answer.
type StepOutcome struct {
	Objective     string  `json:"objective"`
	Score         float64 `json:"score"`
	Passed        bool    `json:"passed"`
	NextObjective string  `json:"nextObjective,omitempty"`
	Completed     bool    `json:"completed"`
}

// Pass thresholds for a submitted step.
const (
	stepPassScore = 0.3
	stepMinAnswer = 20
)

// SubmitStep grades an answer against the current objective. A passing
// answer advances the mission; a failing one leaves it where it is so the
// learner can retry.
func (a *Agent) SubmitStep(ctx context.Context, missionID, answer string) (*StepOutcome, error) {
	const op = "agent.SubmitStep"

	a.missionMu.Lock()
	m, ok := a.missions[missionID]
	a.missionMu.Unlock()
	if !ok {
		return nil, aerr.Errorf(aerr.KindNotFound, op, "unknown mission %s", missionID)
	}
	if m.Completed {
		return nil, aerr.Errorf(aerr.KindConflictingState, op, "mission %s already completed", missionID)
	}

	a.missionMu.Lock()
	objective := m.Objectives[m.Progress]
	score := coverage(objective, answer)
	passed := score >= stepPassScore && len(strings.TrimSpace(answer)) >= stepMinAnswer
	outcome := &StepOutcome{Objective: objective, Score: score, Passed: passed}
	if passed {
		m.Progress++
		if m.Progress >= len(m.Objectives) {
			m.Completed = true
			outcome.Completed = true
		} else {
			outcome.NextObjective = m.Objectives[m.Progress]
		}
	}
	a.missionMu.Unlock()

	a.loop.Record(ctx, objective, answer, nil, "")
	a.audit.Record(ctx, actorFor(m.SessionID), "mission.step", m.ID, passed, nil)
	return outcome, nil
}

// ProvideFeedback records learner feedback on a mission and returns the
// improvements the learning loop derived from it.
func (a *Agent) ProvideFeedback(ctx context.Context, missionID, feedback string) ([]string, error) {
	const op = "agent.ProvideFeedback"

	a.missionMu.Lock()
	m, ok := a.missions[missionID]
	a.missionMu.Unlock()
	if !ok {
		return nil, aerr.Errorf(aerr.KindNotFound, op, "unknown mission %s", missionID)
	}

	entry := a.loop.Record(ctx, m.Topic, "", nil, feedback)
	return entry.Improvements, nil
}

// ExplainConcept answers "explain X" through the normal ladder, scoped to
// a difficulty level when given.
func (a *Agent) ExplainConcept(ctx context.Context, concept, difficulty string) (*KnowledgeAnswer, error) {
	if strings.TrimSpace(concept) == "" {
		return nil, aerr.E(aerr.KindValidation, "agent.ExplainConcept", "empty concept")
	}
	return a.QueryKnowledge(ctx, "explain "+concept, pipeline.QueryOptions{Difficulty: difficulty})
}

// coverage is the fraction of reference tokens present in the answer.
func coverage(reference, answer string) float64 {
	refTokens := strings.Fields(strings.ToLower(reference))
	if len(refTokens) == 0 {
		return 0
	}
	ansSet := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(answer)) {
		ansSet[strings.Trim(t, ".,;:!?")] = true
	}
	hit := 0
	for _, t := range refTokens {
		if ansSet[strings.Trim(t, ".,;:!?")] {
			hit++
		}
	}
	return float64(hit) / float64(len(refTokens))
}
