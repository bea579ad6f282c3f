// Package decisions broadcasts containment decisions to the fleet over NATS
// so agent supervisors can act on quarantines immediately.
package decisions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Decision is the wire form of a containment announcement.
type Decision struct {
	Action     string    `json:"action"` // quarantine or release
	Agent      string    `json:"agent"`
	Reason     string    `json:"reason,omitempty"`
	ReleasedBy string    `json:"released_by,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher announces decisions on a NATS subject tree.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS and returns a publisher rooted at subject.
func Connect(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("agentwarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// PublishQuarantine announces that an agent was contained.
func (p *Publisher) PublishQuarantine(_ context.Context, agent, reason string) error {
	return p.publish(p.subject+".quarantine", Decision{
		Action: "quarantine",
		Agent:  agent,
		Reason: reason,
		At:     time.Now().UTC(),
	})
}

// PublishRelease announces that an agent's quarantine was lifted.
func (p *Publisher) PublishRelease(_ context.Context, agent, releasedBy string) error {
	return p.publish(p.subject+".release", Decision{
		Action:     "release",
		Agent:      agent,
		ReleasedBy: releasedBy,
		At:         time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, d Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}
}
