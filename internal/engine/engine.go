// Package engine orchestrates fraud detection: rule execution, pattern
// correlation, risk classification, recommendation generation, history
// recording, and event publication.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/fingerprint"
	"github.com/claimwatch/claimwatch/internal/pattern"
	"github.com/claimwatch/claimwatch/internal/risk"
	"github.com/claimwatch/claimwatch/internal/rules"
)

// EngineVersion is stamped into every detection result.
const EngineVersion = "1.0.0"

// defaultBatchConcurrency bounds parallel rule execution in batch mode.
const defaultBatchConcurrency = 8

// ErrInvalidDocument is returned when a submission carries no extracted
// data to analyze.
var ErrInvalidDocument = errors.New("document has no extracted data")

// Engine is the fraud detection orchestrator.
type Engine struct {
	store      domain.Store
	cache      domain.Cache
	bus        domain.EventBus
	rules      *rules.Engine
	patterns   *pattern.Matcher
	classifier *risk.Classifier
	prints     *fingerprint.Index

	batchConcurrency int
}

// Options configures engine construction.
type Options struct {
	Store    domain.Store
	Cache    domain.Cache
	EventBus domain.EventBus

	// BatchConcurrency bounds parallel document analysis in batch mode.
	// Zero means the default.
	BatchConcurrency int
}

// New creates an engine with the built-in rule catalog registered and
// any persisted expression rules loaded.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.EventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	concurrency := opts.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	prints := fingerprint.NewIndex(opts.Store)

	ruleEngine := rules.NewEngine()
	for _, rule := range rules.BuiltinRules(rules.Deps{
		Store:  opts.Store,
		Cache:  opts.Cache,
		Prints: prints,
	}) {
		if err := ruleEngine.Register(rule); err != nil {
			return nil, fmt.Errorf("register builtin rule: %w", err)
		}
	}

	configs, err := opts.Store.ListRuleConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule configs: %w", err)
	}
	if err := ruleEngine.LoadExpressionRules(configs); err != nil {
		return nil, fmt.Errorf("load expression rules: %w", err)
	}

	return &Engine{
		store:            opts.Store,
		cache:            opts.Cache,
		bus:              opts.EventBus,
		rules:            ruleEngine,
		patterns:         pattern.NewMatcher(),
		classifier:       risk.NewClassifier(),
		prints:           prints,
		batchConcurrency: concurrency,
	}, nil
}

// DetectFraud runs the full analysis pipeline for one document. The
// history entry is recorded only after the result is fully computed, so
// a document's own analysis never influences its own cross-document
// rules.
func (e *Engine) DetectFraud(ctx context.Context, doc *domain.ClaimDocument) (*domain.FraudDetectionResult, error) {
	start := time.Now()

	if doc == nil || doc.Extracted == nil {
		e.publishError(ctx, "", ErrInvalidDocument)
		return nil, ErrInvalidDocument
	}

	if doc.Meta == nil {
		doc.Meta = &domain.Metadata{}
	}
	if doc.Meta.DocumentID == "" {
		doc.Meta.DocumentID = uuid.New().String()
	}
	if doc.Meta.UploadedAt.IsZero() {
		doc.Meta.UploadedAt = time.Now().UTC()
	}
	documentID := doc.Meta.DocumentID

	history, err := e.store.Analyses(ctx)
	if err != nil {
		err = fmt.Errorf("load analysis history: %w", err)
		e.publishError(ctx, documentID, err)
		return nil, err
	}

	outcome := e.rules.EvaluateAll(ctx, doc, history)

	// Exceeded indicators become standalone activities; their names feed
	// pattern correlation.
	var activities []domain.SuspiciousActivity
	var exceededNames []string
	for _, ind := range outcome.Indicators {
		if !ind.Exceeded {
			continue
		}
		activities = append(activities, risk.ActivityFromIndicator(ind))
		exceededNames = append(exceededNames, ind.Name)
	}
	activities = append(activities, e.patterns.Match(exceededNames)...)

	level := e.classifier.Classify(outcome.RiskScore)

	result := &domain.FraudDetectionResult{
		AnalysisID:           uuid.New().String(),
		DocumentID:           documentID,
		AnalyzedAt:           time.Now().UTC(),
		RiskScore:            outcome.RiskScore,
		RiskLevel:            level,
		SuspiciousActivities: activities,
		Indicators:           outcome.Indicators,
		Recommendations:      e.classifier.Recommendations(outcome.RiskScore, level, activities),
		Confidence:           risk.Confidence(outcome.Indicators),
		RulesEvaluated:       outcome.RulesEvaluated,
		EngineVersion:        EngineVersion,
	}
	result.ProcessingMs = time.Since(start).Milliseconds()

	if err := e.store.RecordAnalysis(ctx, buildRecord(doc, result)); err != nil {
		err = fmt.Errorf("record analysis: %w", err)
		e.publishError(ctx, documentID, err)
		return nil, err
	}

	e.publish(ctx, domain.TopicAnalysisCompleted, domain.AnalysisCompletedEvent{
		AnalysisID:                result.AnalysisID,
		DocumentID:                result.DocumentID,
		RiskScore:                 result.RiskScore,
		RiskLevel:                 result.RiskLevel,
		SuspiciousActivitiesCount: len(result.SuspiciousActivities),
		ProcessingMs:              result.ProcessingMs,
	})

	return result, nil
}

// DetectBatch analyzes documents in parallel with bounded concurrency.
// Results come back in submission order. Batch mode is strict: any
// failing document fails the whole batch.
func (e *Engine) DetectBatch(ctx context.Context, docs []domain.BatchDocument) ([]*domain.FraudDetectionResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	results := make([]*domain.FraudDetectionResult, len(docs))
	errs := make([]error, len(docs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.batchConcurrency)

	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			doc := &domain.ClaimDocument{
				Bytes:     docs[i].Bytes,
				Extracted: docs[i].Extracted,
				Meta:      docs[i].Meta,
			}
			results[i], errs[i] = e.DetectFraud(ctx, doc)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}

	var scoreSum float64
	highRisk := 0
	for _, r := range results {
		scoreSum += r.RiskScore
		if r.RiskLevel == domain.RiskHigh || r.RiskLevel == domain.RiskCritical {
			highRisk++
		}
	}

	e.publish(ctx, domain.TopicBatchCompleted, domain.BatchCompletedEvent{
		TotalDocuments:    len(results),
		HighRiskDocuments: highRisk,
		AverageRiskScore:  scoreSum / float64(len(results)),
	})

	return results, nil
}

// buildRecord snapshots the extracted fields the cross-document rules
// read, alongside the full result for audit retrieval.
func buildRecord(doc *domain.ClaimDocument, result *domain.FraudDetectionResult) *domain.AnalysisRecord {
	ex := doc.Extracted

	var activityTypes []domain.ActivityType
	for _, act := range result.SuspiciousActivities {
		activityTypes = append(activityTypes, act.Type)
	}

	return &domain.AnalysisRecord{
		AnalysisID:    result.AnalysisID,
		DocumentID:    result.DocumentID,
		DocumentType:  ex.DocumentType,
		PatientName:   ex.PatientName,
		HospitalName:  ex.HospitalName,
		LabName:       ex.LabName,
		TotalAmount:   ex.TotalAmount,
		BillNumber:    ex.BillNumber,
		ServiceDate:   ex.ServiceDate(),
		UploadedBy:    doc.Meta.UploadedBy,
		UploadedAt:    doc.Meta.UploadedAt,
		AnalyzedAt:    result.AnalyzedAt,
		RiskScore:     result.RiskScore,
		RiskLevel:     result.RiskLevel,
		ActivityTypes: activityTypes,
		ProcessingMs:  result.ProcessingMs,
		Result:        result,
	}
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (e *Engine) publishError(ctx context.Context, documentID string, err error) {
	e.publish(ctx, domain.TopicAnalysisError, domain.AnalysisErrorEvent{
		DocumentID: documentID,
		Error:      err.Error(),
	})
}
