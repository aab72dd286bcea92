package progress

import (
	"context"
	"fmt"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// Sink persists a progress record, optionally together with the audit's
// files_analyzed counter so both land in one write.
type Sink interface {
	WriteAuditProgress(ctx context.Context, auditID string, detail []byte, filesAnalyzed *int) error
}

// Publisher fans a progress record out to subscribers. Best-effort; the
// database remains the source of truth.
type Publisher interface {
	PublishProgress(auditID string, detail []byte)
}

// Bus serializes progress writes for an audit into durable storage and
// mirrors them to an optional publisher.
type Bus struct {
	sink Sink
	pub  Publisher
}

// NewBus returns a Bus writing through sink. pub may be nil.
func NewBus(sink Sink, pub Publisher) *Bus {
	return &Bus{sink: sink, pub: pub}
}

// Write persists detail on the audit record.
func (b *Bus) Write(ctx context.Context, auditID string, d Detail) error {
	return b.write(ctx, auditID, d, nil)
}

// WriteWithCounter persists detail and files_analyzed in a single update.
func (b *Bus) WriteWithCounter(ctx context.Context, auditID string, d Detail, filesAnalyzed int) error {
	return b.write(ctx, auditID, d, &filesAnalyzed)
}

func (b *Bus) write(ctx context.Context, auditID string, d Detail, counter *int) error {
	raw, err := Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := b.sink.WriteAuditProgress(ctx, auditID, raw, counter); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	if b.pub != nil {
		b.pub.PublishProgress(auditID, raw)
	}
	logging.Debug("progress written",
		"audit_id", auditID,
		"phase", string(d.Type),
		"warnings", len(d.Warnings))
	return nil
}
