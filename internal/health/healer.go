package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"aegis/internal/bus"
	"aegis/internal/logging"

	"go.uber.org/zap"
)

// Severity ranks healing actions.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Action is one registered remediation.
type Action struct {
	Name     string
	Severity Severity
	Run      func(ctx context.Context) error
}

// Healer holds remediations and applies the severity policy: degraded
// systems run low and medium actions, unhealthy systems run everything.
type Healer struct {
	mu      sync.Mutex
	actions []Action
	bus     *bus.Bus

	healing atomic.Bool
}

// NewHealer builds an empty healer.
func NewHealer(b *bus.Bus) *Healer {
	return &Healer{bus: b}
}

// Register appends an action. Registration order is execution order.
func (h *Healer) Register(a Action) {
	h.mu.Lock()
	h.actions = append(h.actions, a)
	h.mu.Unlock()
}

// HealingOutcome summarizes one healing pass.
type HealingOutcome struct {
	Executed []string `json:"executed"`
	Failed   []string `json:"failed"`
	Skipped  bool     `json:"skipped"`
}

// Heal runs the actions the overall status calls for. Reentrant calls are
// skipped so a healing action can never trigger healing recursively.
func (h *Healer) Heal(ctx context.Context, overall Status) HealingOutcome {
	if overall == StatusHealthy {
		return HealingOutcome{}
	}
	if !h.healing.CompareAndSwap(false, true) {
		return HealingOutcome{Skipped: true}
	}
	defer h.healing.Store(false)

	h.mu.Lock()
	actions := make([]Action, len(h.actions))
	copy(actions, h.actions)
	h.mu.Unlock()

	log := logging.Get(logging.CategoryHealth)
	var out HealingOutcome
	for _, a := range actions {
		if overall == StatusDegraded && a.Severity == SeverityHigh {
			continue
		}
		err := h.runAction(ctx, a)
		if err != nil {
			out.Failed = append(out.Failed, a.Name)
			log.Error("healing action failed", zap.String("action", a.Name), zap.Error(err))
			h.publish(ctx, bus.TopicHealingFailed, a, err)
			continue
		}
		out.Executed = append(out.Executed, a.Name)
		log.Info("healing action succeeded", zap.String("action", a.Name))
		h.publish(ctx, bus.TopicHealingSuccess, a, nil)
	}
	return out
}

// runAction isolates panics: a crashing remediation reports on the error
// topic instead of taking down the monitor.
func (h *Healer) runAction(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("healing action %s panicked: %v", a.Name, r)
			h.publish(ctx, bus.TopicHealingError, a, err)
		}
	}()
	return a.Run(ctx)
}

func (h *Healer) publish(ctx context.Context, topic string, a Action, err error) {
	if h.bus == nil {
		return
	}
	payload := map[string]any{"action": a.Name, "severity": string(a.Severity)}
	if err != nil {
		payload["error"] = err.Error()
	}
	h.bus.Publish(ctx, bus.Event{Topic: topic, Payload: payload})
}
