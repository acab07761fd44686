package domain

import (
	"context"
)

// CheckFunc evaluates one rule against a document and the flattened
// analysis history, returning zero or more indicators. A returned error
// (or panic) never aborts detection; the executor logs it and treats the
// rule's contribution as zero.
type CheckFunc func(ctx context.Context, doc *ClaimDocument, history []*AnalysisRecord) ([]FraudIndicator, error)

// FraudRule is one entry of the rule catalog. Rules are registered at
// construction or via the admin surface, toggled with enable/disable,
// and never deleted.
type FraudRule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    RuleCategory `json:"category"`
	Weight      float64      `json:"weight"` // 0.0 to 1.0
	Threshold   float64      `json:"threshold"`
	Enabled     bool         `json:"enabled"`

	// Expression is set for operator-defined CEL rules; built-in rules
	// carry a Go check function instead.
	Expression string `json:"expression,omitempty"`

	Check CheckFunc `json:"-"`
}

// RuleConfig is the persistable form of an operator-defined expression
// rule. The CEL expression is compiled when the rule is loaded.
type RuleConfig struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    RuleCategory `json:"category"`
	Expression  string       `json:"expression"`
	Weight      float64      `json:"weight"`
	Threshold   float64      `json:"threshold"`
	Enabled     bool         `json:"enabled"`
}

// FraudPattern is a named multi-indicator co-occurrence signature. A
// pattern matches when at least 60% of its indicators appear in one
// analysis; the emitted risk contribution is RiskScore scaled by the
// observed match ratio.
type FraudPattern struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Indicators []string `json:"indicators"`
	RiskScore  float64  `json:"riskScore"`
}
