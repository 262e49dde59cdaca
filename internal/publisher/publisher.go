package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tkoinhq/pricing-engine/pkg/logger"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// Publisher wraps a NATS connection and provides helpers for publishing
// canonical pricing events. All publishing is best-effort: downstream
// consumers get events, but a broker outage never fails a pricing call.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// New creates a new Publisher with JetStream enabled if available.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		return err
	}

	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		return err
	}
	return nil
}

func (p *Publisher) publishEvent(ctx context.Context, suffix, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.S().Errorw("publisher.payload_marshal_failed",
			"event_type", eventType,
			"error", err,
		)
		return
	}
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         p.subject + "." + suffix,
		EventType:     eventType,
		Version:       "v1",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}
	_ = p.PublishEnvelope(ctx, env.Topic, env)
}

// QuoteCreated publishes a quote.created event.
func (p *Publisher) QuoteCreated(ctx context.Context, ev model.QuoteCreatedEvent) {
	p.publishEvent(ctx, "quote.created", "quote.created", ev)
}

// QuoteExpired publishes a quote.expired event.
func (p *Publisher) QuoteExpired(ctx context.Context, ev model.QuoteExpiredEvent) {
	p.publishEvent(ctx, "quote.expired", "quote.expired", ev)
}

// RatesRefreshed publishes a rates.refreshed event after a successful batch
// refresh.
func (p *Publisher) RatesRefreshed(ctx context.Context, ev model.RatesRefreshedEvent) {
	p.publishEvent(ctx, "rates.refreshed", "rates.refreshed", ev)
}
