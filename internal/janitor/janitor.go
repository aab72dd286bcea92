// Package janitor runs the periodic maintenance sweeps: failing audits that
// have exceeded the time limit without terminating and pruning expired
// ownership cache rows.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// sweepTimeout bounds one maintenance pass.
const sweepTimeout = 30 * time.Second

// Store is the persistence surface the janitor sweeps.
type Store interface {
	FailStuckAudits(ctx context.Context, timeout time.Duration) (int64, error)
	PruneOwnershipCache(ctx context.Context) (int64, error)
}

// Janitor schedules the maintenance sweeps.
type Janitor struct {
	scheduler    gocron.Scheduler
	store        Store
	auditTimeout time.Duration
}

// New builds a janitor that fails audits still running after auditTimeout.
func New(store Store, auditTimeout time.Duration) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Janitor{scheduler: s, store: store, auditTimeout: auditTimeout}, nil
}

// Start registers the sweep at the given interval and begins running it.
func (j *Janitor) Start(interval time.Duration) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.runSweep),
		gocron.WithName("maintenance-sweep"),
	)
	if err != nil {
		return fmt.Errorf("schedule maintenance sweep: %w", err)
	}
	j.scheduler.Start()
	logging.Info("janitor started",
		"interval", interval.String(),
		"audit_timeout", j.auditTimeout.String())
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep runs one maintenance pass. Each task is independent; a failure in
// one does not stop the other.
func (j *Janitor) Sweep(ctx context.Context) {
	if n, err := j.store.FailStuckAudits(ctx, j.auditTimeout); err != nil {
		logging.Error("failing stuck audits", "error", err.Error())
	} else if n > 0 {
		logging.Warn("failed stuck audits", "count", n)
	}

	if n, err := j.store.PruneOwnershipCache(ctx); err != nil {
		logging.Error("pruning ownership cache", "error", err.Error())
	} else if n > 0 {
		logging.Debug("pruned ownership cache", "count", n)
	}
}
