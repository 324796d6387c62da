// Package broadcast publishes workflow progress events to interested
// listeners. Delivery is fire-and-forget, at most once; the pipeline never
// blocks on a listener.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the broadcast collaborator interface consumed by the
// orchestrator and agents.
type Publisher interface {
	Publish(workflowID, event string, payload any)
}

// NATSPublisher publishes events on NATS subjects of the form
// <prefix>.<workflow_id>.<event>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(url, subjectPrefix string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("outreach-mcp"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

// Publish sends the event without waiting for delivery confirmation. Encode
// or publish failures are logged and dropped.
func (p *NATSPublisher) Publish(workflowID, event string, payload any) {
	data, err := json.Marshal(map[string]any{
		"workflow_id": workflowID,
		"event":       event,
		"payload":     payload,
	})
	if err != nil {
		p.logger.Warn("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, workflowID, event)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("broadcast publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// Noop discards every event. Used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(string, string, any) {}
