package domain

import (
	"context"
)

// EventBus defines the interface for outbound event notification.
// Supports Go channels (community) or NATS (pro). The engine publishes
// analysis lifecycle and admin events; audit and notification
// collaborators subscribe.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Returns a subscription
	// that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topic names for the analysis pipeline and admin surface.
const (
	TopicDocumentSubmitted   = "claimwatch.document.submitted"
	TopicAnalysisCompleted   = "claimwatch.analysis.completed"
	TopicAnalysisError       = "claimwatch.analysis.error"
	TopicBatchCompleted      = "claimwatch.batch.completed"
	TopicAlert               = "claimwatch.alert"
	TopicRuleAdded           = "claimwatch.rule.added"
	TopicRuleEnabled         = "claimwatch.rule.enabled"
	TopicRuleDisabled        = "claimwatch.rule.disabled"
	TopicEntityBlacklisted   = "claimwatch.blacklist.added"
	TopicEntityUnblacklisted = "claimwatch.blacklist.removed"
	TopicThresholdsUpdated   = "claimwatch.thresholds.updated"
)

// AnalysisCompletedEvent is published after every successful analysis.
type AnalysisCompletedEvent struct {
	AnalysisID                string    `json:"analysisId"`
	DocumentID                string    `json:"documentId"`
	RiskScore                 float64   `json:"riskScore"`
	RiskLevel                 RiskLevel `json:"riskLevel"`
	SuspiciousActivitiesCount int       `json:"suspiciousActivitiesCount"`
	ProcessingMs              int64     `json:"processingTime"`
}

// AnalysisErrorEvent is published when an analysis fails fatally.
type AnalysisErrorEvent struct {
	DocumentID string `json:"documentId,omitempty"`
	Error      string `json:"error"`
}

// BatchCompletedEvent is published after a successful batch analysis.
type BatchCompletedEvent struct {
	TotalDocuments    int     `json:"totalDocuments"`
	HighRiskDocuments int     `json:"highRiskDocuments"`
	AverageRiskScore  float64 `json:"averageRiskScore"`
}

// RuleEvent is published for rule catalog changes.
type RuleEvent struct {
	RuleID string `json:"ruleId"`
}

// BlacklistEvent is published for blacklist changes.
type BlacklistEvent struct {
	Entity string `json:"entity"`
}

// ThresholdsEvent is published when risk thresholds change.
type ThresholdsEvent struct {
	Thresholds RiskThresholds `json:"thresholds"`
}
