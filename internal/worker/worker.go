// Package worker provides async document processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/engine"
)

// Worker analyzes documents submitted through the event bus rather than
// the synchronous HTTP surface. High and critical results are forwarded
// to the alert topic for downstream notification.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the document submission topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicDocumentSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicDocumentSubmitted,
	)
	return nil
}

// DocumentMessage is the payload of a document submission event.
type DocumentMessage struct {
	DocumentBytes []byte                `json:"documentBytes,omitempty"`
	ExtractedData *domain.ExtractedData `json:"extractedData"`
	Metadata      *domain.Metadata      `json:"metadata,omitempty"`
}

// handleMessage analyzes one submitted document.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var docMsg DocumentMessage
	if err := json.Unmarshal(msg.Payload, &docMsg); err != nil {
		slog.Error("failed to parse document message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	result, err := w.engine.DetectFraud(ctx, &domain.ClaimDocument{
		Bytes:     docMsg.DocumentBytes,
		Extracted: docMsg.ExtractedData,
		Meta:      docMsg.Metadata,
	})
	if err != nil {
		slog.Error("async analysis failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Forward high-risk results to the alert topic
	if result.RiskLevel == domain.RiskHigh || result.RiskLevel == domain.RiskCritical {
		payload, _ := json.Marshal(result)
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", result.AnalysisID,
				"error", err,
			)
		}
	}

	slog.Info("document processed",
		"analysis_id", result.AnalysisID,
		"document_id", result.DocumentID,
		"risk_level", result.RiskLevel,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
