// Package events mirrors audit progress onto NATS for subscribers that want
// push updates instead of polling. Publishing is best-effort: the database
// row written by the progress bus remains the source of truth, and a lost
// event costs a subscriber nothing but latency.
package events

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// subjectPrefix namespaces all audit progress subjects.
const subjectPrefix = "codewatch.audit"

// Publisher publishes audit progress records to NATS.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials NATS at url. The connection reconnects indefinitely so a
// broker restart does not take the audit pipeline down with it.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("codewatch"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logging.Info("nats connected", "url", url)
	return &Publisher{conn: conn}, nil
}

// PublishProgress sends the serialized progress record for an audit on
// codewatch.audit.<id>.progress. Failures are logged and swallowed.
func (p *Publisher) PublishProgress(auditID string, detail []byte) {
	subject := fmt.Sprintf("%s.%s.progress", subjectPrefix, auditID)
	if err := p.conn.Publish(subject, detail); err != nil {
		logging.Warn("progress event publish failed",
			"audit_id", auditID, "error", err.Error())
	}
}

// Close drains the connection, flushing any buffered publishes.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
