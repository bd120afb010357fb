package events

import (
	"context"
	"encoding/json"
	"fmt"

	"donation-payments/config"
	"donation-payments/internal/core/ports"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// subjectPrefix namespaces all payment lifecycle subjects, e.g.
// payments.transaction.completed.
const subjectPrefix = "payments."

// NATSPublisher implements ports.EventPublisher over NATS. Delivery is
// best-effort: downstream consumers (receipts, notifications) tolerate loss.
type NATSPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(cfg config.NATSConfig, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("NATS connection established")

	return &NATSPublisher{
		conn: conn,
		log:  log.With().Str("component", "events").Logger(),
	}, nil
}

// Publish emits one lifecycle event on its type-derived subject.
func (p *NATSPublisher) Publish(ctx context.Context, event ports.TransactionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := subjectPrefix + event.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("transaction_id", event.TransactionID).
		Msg("published event")
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("draining nats connection")
	}
}

// NoopPublisher implements ports.EventPublisher when eventing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event ports.TransactionEvent) error { return nil }
func (NoopPublisher) Close()                                                          {}
