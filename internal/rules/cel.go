package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// newCELEnv creates the CEL environment exposing document variables to
// operator-defined expression rules.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("document_type", cel.StringType),
		cel.Variable("patient_name", cel.StringType),
		cel.Variable("hospital_name", cel.StringType),
		cel.Variable("doctor_name", cel.StringType),
		cel.Variable("lab_name", cel.StringType),
		cel.Variable("bill_number", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("total_amount", cel.DoubleType),
		cel.Variable("has_signature", cel.BoolType),
		cel.Variable("has_logo", cel.BoolType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("uploader_history_count", cel.IntType),
	)
}

func (e *Engine) env() (*cel.Env, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.celEnv == nil {
		env, err := newCELEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL environment: %w", err)
		}
		e.celEnv = env
	}
	return e.celEnv, nil
}

// ValidateExpression compiles an expression without registering it.
func (e *Engine) ValidateExpression(expression string) error {
	env, err := e.env()
	if err != nil {
		return err
	}
	_, err = compileExpression(env, expression)
	return err
}

// AddExpressionRule compiles an operator-defined CEL rule and registers
// it in the catalog. Registering an existing id hot-swaps the rule.
func (e *Engine) AddExpressionRule(cfg *domain.RuleConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("rule config id is required")
	}

	env, err := e.env()
	if err != nil {
		return err
	}
	program, err := compileExpression(env, cfg.Expression)
	if err != nil {
		return fmt.Errorf("rule %s: %w", cfg.ID, err)
	}

	category := cfg.Category
	if category == "" {
		category = domain.CategoryPattern
	}

	return e.Register(&domain.FraudRule{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Category:    category,
		Weight:      cfg.Weight,
		Threshold:   cfg.Threshold,
		Enabled:     cfg.Enabled,
		Expression:  cfg.Expression,
		Check:       expressionCheck(cfg, category, program),
	})
}

// LoadExpressionRules registers a batch of persisted expression rules,
// typically at startup or on hot reload.
func (e *Engine) LoadExpressionRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if err := e.AddExpressionRule(cfg); err != nil {
			return err
		}
	}
	return nil
}

func compileExpression(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	return env.Program(ast)
}

// expressionCheck wraps a compiled program as a CheckFunc. A score above
// the rule's threshold produces one exceeded indicator named after the
// rule id.
func expressionCheck(cfg *domain.RuleConfig, category domain.RuleCategory, program cel.Program) domain.CheckFunc {
	id := cfg.ID
	threshold := cfg.Threshold
	weight := cfg.Weight

	return func(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
		out, _, err := program.Eval(activation(doc, history))
		if err != nil {
			return nil, fmt.Errorf("expression evaluation: %w", err)
		}

		score := toScore(out)
		if score <= threshold {
			return nil, nil
		}

		return []domain.FraudIndicator{{
			Category:  category,
			Name:      id,
			Value:     score,
			Threshold: threshold,
			Exceeded:  true,
			Weight:    weight,
		}}, nil
	}
}

// activation builds the CEL variable bindings for one document.
func activation(doc *domain.ClaimDocument, history []*domain.AnalysisRecord) map[string]any {
	ex := doc.Extracted

	uploaderCount := 0
	if doc.Meta != nil && doc.Meta.UploadedBy != "" {
		for _, rec := range history {
			if rec.UploadedBy == doc.Meta.UploadedBy {
				uploaderCount++
			}
		}
	}

	var serviceDate string
	if d := ex.ServiceDate(); d != nil {
		serviceDate = d.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"doc": map[string]any{
			"document_type": string(ex.DocumentType),
			"patient_name":  ex.PatientName,
			"hospital_name": ex.HospitalName,
			"total_amount":  ex.TotalAmount,
			"bill_number":   ex.BillNumber,
			"service_date":  serviceDate,
			"medications":   len(ex.Medications),
			"results":       len(ex.Results),
		},
		"document_type":          string(ex.DocumentType),
		"patient_name":           strings.ToLower(ex.PatientName),
		"hospital_name":          strings.ToLower(ex.HospitalName),
		"doctor_name":            strings.ToLower(ex.DoctorName),
		"lab_name":               strings.ToLower(ex.LabName),
		"bill_number":            ex.BillNumber,
		"language":               ex.Language,
		"amount":                 ex.TotalAmount,
		"total_amount":           ex.TotalAmount,
		"has_signature":          ex.Signature != "",
		"has_logo":               ex.HasLogo,
		"history_count":          len(history),
		"uploader_history_count": uploaderCount,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
