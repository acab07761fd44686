// Package rules owns the fraud rule catalog and runs enabled rules
// against a document/history pair.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// Engine is the rule registry and executor. Rules are kept in
// registration order; they are toggled with Enable/Disable and never
// deleted.
type Engine struct {
	mu     sync.RWMutex
	rules  []*domain.FraudRule
	byID   map[string]*domain.FraudRule
	celEnv *cel.Env // lazily built for expression rules
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{
		byID: make(map[string]*domain.FraudRule),
	}
}

// Register adds a rule to the catalog. Registering an id twice replaces
// the previous rule in place, preserving its position.
func (e *Engine) Register(rule *domain.FraudRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if rule.Check == nil {
		return fmt.Errorf("rule %s: check function is required", rule.ID)
	}
	if rule.Weight < 0 || rule.Weight > 1 {
		return fmt.Errorf("rule %s: weight must be between 0 and 1", rule.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.byID[rule.ID]; ok {
		*existing = *rule
		return nil
	}

	e.rules = append(e.rules, rule)
	e.byID[rule.ID] = rule
	return nil
}

// Enable turns a rule on. Unknown ids are silently ignored; the return
// value reports whether anything changed.
func (e *Engine) Enable(id string) bool {
	return e.setEnabled(id, true)
}

// Disable turns a rule off without removing it from the catalog.
func (e *Engine) Disable(id string) bool {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.byID[id]
	if !ok || rule.Enabled == enabled {
		return false
	}
	rule.Enabled = enabled
	return true
}

// Rules returns a snapshot of the catalog in registration order.
func (e *Engine) Rules() []*domain.FraudRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.FraudRule, 0, len(e.rules))
	for _, r := range e.rules {
		copied := *r
		out = append(out, &copied)
	}
	return out
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Outcome is the aggregate of one executor pass.
type Outcome struct {
	Indicators     []domain.FraudIndicator
	RiskScore      float64 // 0 to 100
	RulesEvaluated int
}

// EvaluateAll runs every enabled rule in registration order and computes
// the normalized risk score. A rule error or panic is logged and the
// rule's contribution is treated as zero; only the orchestration around
// the loop can fail the analysis.
func (e *Engine) EvaluateAll(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) *Outcome {
	e.mu.RLock()
	enabled := make([]*domain.FraudRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	e.mu.RUnlock()

	out := &Outcome{}
	var totalScore, totalWeight float64

	for _, rule := range enabled {
		indicators := e.runRule(ctx, rule, doc, history)
		out.Indicators = append(out.Indicators, indicators...)
		out.RulesEvaluated++

		var ruleScore float64
		for _, ind := range indicators {
			if ind.Exceeded {
				ruleScore += ind.Weight * 100
			}
		}
		totalScore += ruleScore * rule.Weight
		totalWeight += rule.Weight
	}

	if totalWeight > 0 {
		out.RiskScore = totalScore / totalWeight
		if out.RiskScore > 100 {
			out.RiskScore = 100
		}
	}
	return out
}

// runRule executes a single rule check, containing panics and errors so
// a failing rule degrades rather than aborts detection.
func (e *Engine) runRule(ctx context.Context, rule *domain.FraudRule, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) (indicators []domain.FraudIndicator) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule panicked",
				"rule_id", rule.ID,
				"panic", r,
			)
			indicators = nil
		}
	}()

	indicators, err := rule.Check(ctx, doc, history)
	if err != nil {
		slog.Error("rule check failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return nil
	}
	return indicators
}
