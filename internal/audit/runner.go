package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// Runner errors.
var (
	ErrAlreadyRunning = errors.New("audit task already running")
	ErrShuttingDown   = errors.New("runner is shutting down")
)

// Runner launches one task per audit and tracks it for cancellation. Tasks
// run concurrently with each other and with HTTP handlers; each task is
// internally sequential across phases. Every task runs under its own
// deadline so a wedged git or LLM call cannot pin an audit forever.
type Runner struct {
	orch    *Orchestrator
	timeout time.Duration

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewRunner returns a Runner executing audits through orch, each bounded by
// timeout.
func NewRunner(orch *Orchestrator, timeout time.Duration) *Runner {
	return &Runner{
		orch:    orch,
		timeout: timeout,
		tasks:   make(map[string]context.CancelFunc),
	}
}

// Start launches the audit task in the background. The API key is captured
// by the task and released when it returns. Starting an audit that is
// already running is refused.
func (r *Runner) Start(auditID, apiKey string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, running := r.tasks[auditID]; running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	r.tasks[auditID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.tasks, auditID)
			r.mu.Unlock()
			r.wg.Done()
		}()

		logging.Info("audit task started", "audit_id", auditID)
		// Run reports its own failures and writes the terminal status; the
		// task just logs the outcome.
		if err := r.orch.Run(ctx, auditID, apiKey); err != nil {
			logging.Warn("audit task ended with error", "audit_id", auditID, "error", err.Error())
			return
		}
		logging.Info("audit task finished", "audit_id", auditID)
	}()
	return nil
}

// Cancel aborts a running audit task. The task marks its audit failed with
// message "cancelled" on the way out. Reports whether a task was running.
func (r *Runner) Cancel(auditID string) bool {
	r.mu.Lock()
	cancel, ok := r.tasks[auditID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of in-flight audit tasks.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown cancels every task and waits for them to finish writing their
// terminal statuses, or until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.tasks {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
