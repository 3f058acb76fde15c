package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventBus moves screening events between the API, the async worker and
// any downstream consumers. Go channels back the Community tier, NATS the
// Pro tier. Every method takes a tenantID: events never cross clinics.
type EventBus interface {
	// Publish sends a payload to a topic within one clinic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a clinic's topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Ping reports bus health.
	Ping(ctx context.Context) error

	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the transport envelope. The typed screening events below
// ride in Payload.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic registration.
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

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the screening pipeline.
const (
	TopicSubmissionReceived = "kestrel.submission.received"
	TopicAssessmentScored   = "kestrel.assessment.scored"
	TopicAlert              = "kestrel.alert"
)

// SubmissionEvent rides TopicSubmissionReceived: a raw screening
// submission queued for async scoring. TenantID, when set, overrides the
// envelope tenant so a global consumer can route it.
type SubmissionEvent struct {
	TenantID   string      `json:"tenantId,omitempty"`
	TraceID    string      `json:"traceId,omitempty"`
	Submission *Submission `json:"submission"`
}

// ScoredEvent rides TopicAssessmentScored once the pipeline has produced
// an immutable result.
type ScoredEvent struct {
	TraceID    string      `json:"traceId,omitempty"`
	Assessment *Assessment `json:"assessment"`
}

// AlertEvent rides TopicAlert, one per triggered alert rule.
type AlertEvent struct {
	AssessmentID string      `json:"assessmentId"`
	SubjectID    string      `json:"subjectId"`
	Result       AlertResult `json:"result"`
}

func (e *SubmissionEvent) Encode() ([]byte, error) { return json.Marshal(e) }

func (e *ScoredEvent) Encode() ([]byte, error) { return json.Marshal(e) }

func (e *AlertEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// DecodeSubmissionEvent parses a TopicSubmissionReceived payload.
func DecodeSubmissionEvent(payload []byte) (*SubmissionEvent, error) {
	var e SubmissionEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode submission event: %w", err)
	}
	return &e, nil
}

// DecodeScoredEvent parses a TopicAssessmentScored payload.
func DecodeScoredEvent(payload []byte) (*ScoredEvent, error) {
	var e ScoredEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode scored event: %w", err)
	}
	return &e, nil
}

// DecodeAlertEvent parses a TopicAlert payload.
func DecodeAlertEvent(payload []byte) (*AlertEvent, error) {
	var e AlertEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode alert event: %w", err)
	}
	return &e, nil
}
