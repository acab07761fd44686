package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// analysisCacheTTL bounds how long retrieved analysis records stay in
// the cache.
const analysisCacheTTL = 10 * time.Minute

// AddRule registers a caller-supplied rule with a native check function.
// Registering an existing id hot-swaps the rule.
func (e *Engine) AddRule(ctx context.Context, rule *domain.FraudRule) error {
	if err := e.rules.Register(rule); err != nil {
		return err
	}
	e.publish(ctx, domain.TopicRuleAdded, domain.RuleEvent{RuleID: rule.ID})
	return nil
}

// AddExpressionRule compiles, persists, and registers an operator-defined
// CEL rule. An existing id is hot-swapped.
func (e *Engine) AddExpressionRule(ctx context.Context, cfg *domain.RuleConfig) error {
	if err := e.rules.AddExpressionRule(cfg); err != nil {
		return err
	}
	if err := e.store.SaveRuleConfig(ctx, cfg); err != nil {
		return fmt.Errorf("persist rule config: %w", err)
	}

	e.publish(ctx, domain.TopicRuleAdded, domain.RuleEvent{RuleID: cfg.ID})
	return nil
}

// ReloadRules re-registers every persisted expression rule, picking up
// configs written by other nodes.
func (e *Engine) ReloadRules(ctx context.Context) error {
	configs, err := e.store.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load rule configs: %w", err)
	}
	return e.rules.LoadExpressionRules(configs)
}

// EnableRule turns a rule on. Unknown ids are a no-op; an event is
// published only when the state actually changes.
func (e *Engine) EnableRule(ctx context.Context, id string) {
	if e.rules.Enable(id) {
		e.publish(ctx, domain.TopicRuleEnabled, domain.RuleEvent{RuleID: id})
	}
}

// DisableRule turns a rule off without removing it from the catalog.
func (e *Engine) DisableRule(ctx context.Context, id string) {
	if e.rules.Disable(id) {
		e.publish(ctx, domain.TopicRuleDisabled, domain.RuleEvent{RuleID: id})
	}
}

// Rules returns a snapshot of the rule catalog.
func (e *Engine) Rules() []*domain.FraudRule {
	return e.rules.Rules()
}

// Patterns returns the registered fraud patterns.
func (e *Engine) Patterns() []*domain.FraudPattern {
	return e.patterns.Patterns()
}

// AddPattern registers an additional fraud pattern.
func (e *Engine) AddPattern(p *domain.FraudPattern) {
	e.patterns.Register(p)
}

// AddToBlacklist adds an entity name to the blacklist.
func (e *Engine) AddToBlacklist(ctx context.Context, entity string) error {
	if err := e.store.AddBlacklistEntity(ctx, entity); err != nil {
		return err
	}
	e.publish(ctx, domain.TopicEntityBlacklisted, domain.BlacklistEvent{Entity: entity})
	return nil
}

// RemoveFromBlacklist removes an entity; unknown names are a no-op.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, entity string) error {
	if err := e.store.RemoveBlacklistEntity(ctx, entity); err != nil {
		return err
	}
	e.publish(ctx, domain.TopicEntityUnblacklisted, domain.BlacklistEvent{Entity: entity})
	return nil
}

// BlacklistedEntities returns the current blacklist.
func (e *Engine) BlacklistedEntities(ctx context.Context) ([]string, error) {
	return e.store.BlacklistEntities(ctx)
}

// RiskThresholds returns the current risk tier cut points.
func (e *Engine) RiskThresholds() domain.RiskThresholds {
	return e.classifier.Thresholds()
}

// UpdateRiskThresholds applies a partial threshold update. Changes affect
// subsequent classifications only; recorded results are never reclassified.
func (e *Engine) UpdateRiskThresholds(ctx context.Context, update domain.ThresholdUpdate) domain.RiskThresholds {
	thresholds := e.classifier.Update(update)
	e.publish(ctx, domain.TopicThresholdsUpdated, domain.ThresholdsEvent{Thresholds: thresholds})
	return thresholds
}

// GetAnalysis retrieves a recorded analysis by id, reading through the
// cache when one is configured.
func (e *Engine) GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error) {
	cacheKey := "analysis:" + analysisID

	if e.cache != nil {
		if data, err := e.cache.Get(ctx, cacheKey); err == nil && data != nil {
			var rec domain.AnalysisRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	rec, err := e.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if data, err := json.Marshal(rec); err == nil {
			_ = e.cache.Set(ctx, cacheKey, data, analysisCacheTTL)
		}
	}
	return rec, nil
}

// AnalysisHistory returns the full analysis history.
func (e *Engine) AnalysisHistory(ctx context.Context) ([]*domain.AnalysisRecord, error) {
	return e.store.Analyses(ctx)
}

// Statistics reduces the analysis history into a summary.
func (e *Engine) Statistics(ctx context.Context) (*domain.Statistics, error) {
	return e.store.Statistics(ctx)
}

// Ping reports the health of the engine's collaborators.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if e.cache != nil {
		if err := e.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if err := e.bus.Ping(ctx); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	return nil
}
