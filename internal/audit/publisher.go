package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ky13/synm/internal/logging"
)

// Publisher fans audit events out to interested consumers. Publication is
// best-effort and happens after the durable append; a failed publish never
// fails the request.
type Publisher interface {
	Publish(ctx context.Context, r *Record) error
	Close()
}

// NATSPublisher publishes records as JSON to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *logging.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(url, subject string, log *logging.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("synmd-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		log:     log,
	}, nil
}

// Publish sends the record to <subject>.<event_type> so observers can
// subscribe per event or with a wildcard.
func (p *NATSPublisher) Publish(ctx context.Context, r *Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	subject := p.subject + "." + r.EventType
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn(ctx, "audit event publish failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// NoopPublisher drops all events. Used when no broker is configured.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(ctx context.Context, r *Record) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() {}
