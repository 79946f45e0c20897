// Package event publishes fulfillment domain events to Kafka. Publishing is
// best-effort: a broker outage never fails the payment pipeline, it only logs.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/pkg/kafka"
	"github.com/ysprod/plancosmique-sub004/pkg/logger"
)

// Kafka topics for fulfillment events.
const (
	TopicFulfillmentCompleted   = "plancosmique.fulfillment.completed"
	TopicFulfillmentFailed      = "plancosmique.fulfillment.failed"
	TopicFulfillmentAlreadyUsed = "plancosmique.fulfillment.already_used"
	TopicOfferingsConsumed      = "plancosmique.offerings.consumed"
)

const (
	source        = "fulfillment-service"
	aggregateType = "fulfillment_session"
)

// Publisher is the subset of the Kafka producer the event layer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes fulfillment domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates an event producer.
func NewProducer(publisher Publisher, log *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: log}
}

// FulfillmentCompletedPayload is the data for fulfillment.completed events.
type FulfillmentCompletedPayload struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	PaymentID      string    `json:"payment_id"`
	Amount         float64   `json:"amount"`
	ConsultationID string    `json:"consultation_id,omitempty"`
	DownloadURL    string    `json:"download_url,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// FulfillmentFailedPayload is the data for fulfillment.failed events.
type FulfillmentFailedPayload struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// FulfillmentAlreadyUsedPayload is the data for fulfillment.already_used events.
type FulfillmentAlreadyUsedPayload struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	ConsultationID string    `json:"consultation_id,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// OfferingsConsumedPayload is the data for offerings.consumed events.
type OfferingsConsumedPayload struct {
	SessionID      string                     `json:"session_id"`
	UserID         string                     `json:"user_id"`
	ConsultationID string                     `json:"consultation_id"`
	Offerings      []domain.OfferingSelection `json:"offerings"`
	Category       domain.OfferingCategory    `json:"category"`
	ConsumedAt     time.Time                  `json:"consumed_at"`
}

// PublishFulfillmentCompleted emits a fulfillment.completed event.
func (p *Producer) PublishFulfillmentCompleted(ctx context.Context, s *domain.Session) {
	payload := FulfillmentCompletedPayload{
		SessionID:      s.ID,
		UserID:         s.UserID,
		ConsultationID: s.ConsultationID,
		DownloadURL:    s.DownloadURL,
		CompletedAt:    time.Now().UTC(),
	}
	if s.Payment != nil {
		payload.PaymentID = s.Payment.ID
		payload.Amount = s.Payment.Amount
	}
	p.publish(ctx, TopicFulfillmentCompleted, "fulfillment.completed", s.ID, payload)
}

// PublishFulfillmentFailed emits a fulfillment.failed event.
func (p *Producer) PublishFulfillmentFailed(ctx context.Context, s *domain.Session, reason string) {
	p.publish(ctx, TopicFulfillmentFailed, "fulfillment.failed", s.ID, FulfillmentFailedPayload{
		SessionID: s.ID,
		UserID:    s.UserID,
		Status:    string(s.Status),
		Reason:    reason,
		FailedAt:  time.Now().UTC(),
	})
}

// PublishFulfillmentAlreadyUsed emits a fulfillment.already_used event.
func (p *Producer) PublishFulfillmentAlreadyUsed(ctx context.Context, s *domain.Session) {
	p.publish(ctx, TopicFulfillmentAlreadyUsed, "fulfillment.already_used", s.ID, FulfillmentAlreadyUsedPayload{
		SessionID:      s.ID,
		UserID:         s.UserID,
		ConsultationID: s.ConsultationID,
		ObservedAt:     time.Now().UTC(),
	})
}

// PublishOfferingsConsumed emits an offerings.consumed event.
func (p *Producer) PublishOfferingsConsumed(ctx context.Context, s *domain.Session, category domain.OfferingCategory, offerings []domain.OfferingSelection) {
	p.publish(ctx, TopicOfferingsConsumed, "offerings.consumed", s.ID, OfferingsConsumedPayload{
		SessionID:      s.ID,
		UserID:         s.UserID,
		ConsultationID: s.ConsultationID,
		Offerings:      offerings,
		Category:       category,
		ConsumedAt:     time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, eventType, sessionID string, data any) {
	if p == nil || p.publisher == nil {
		return
	}

	evt, err := kafka.NewEvent(eventType, sessionID, aggregateType, source, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build domain event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		evt.WithCorrelationID(cid)
	}

	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish domain event",
			slog.String("topic", topic),
			slog.String("event_type", eventType),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
