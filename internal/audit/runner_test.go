package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/store/storetest"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

// blockingRepos parks the clone phase until the task context is cancelled,
// keeping the audit in flight for as long as the test needs.
type blockingRepos struct {
	started chan struct{}
}

func (b *blockingRepos) CloneOrUpdate(ctx context.Context, _, _ string, _ *time.Time) (*gitrepo.CloneResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingRepos) Diff(context.Context, string, string, string) (*gitrepo.Diff, error) {
	return &gitrepo.Diff{}, nil
}

func TestRunnerCancelStopsTask(t *testing.T) {
	mem := storetest.New()
	seedProject(t, mem)
	audit := seedAudit(t, mem, "audit-1", nil)

	repos := &blockingRepos{started: make(chan struct{}, 1)}
	orch := New(Deps{
		Store:   mem,
		Repos:   repos,
		LLM:     &scriptedLLM{},
		Planner: &fakePlanner{},
		Bus:     progress.NewBus(mem, nil),
		Tokens:  tokens.NewAccountant(mem),
	})
	runner := NewRunner(orch, time.Minute)

	require.NoError(t, runner.Start(audit.ID, "test-key"))
	select {
	case <-repos.started:
	case <-time.After(5 * time.Second):
		t.Fatal("audit task never reached the clone phase")
	}
	assert.Equal(t, 1, runner.Running())

	// The same audit cannot be started twice while in flight.
	assert.ErrorIs(t, runner.Start(audit.ID, "test-key"), ErrAlreadyRunning)

	assert.True(t, runner.Cancel(audit.ID))
	require.Eventually(t, func() bool { return runner.Running() == 0 },
		5*time.Second, 10*time.Millisecond)

	stored, err := mem.GetAudit(context.Background(), audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "cancelled", *stored.ErrorMessage)

	// Cancelling again reports no task.
	assert.False(t, runner.Cancel(audit.ID))
}

func TestRunnerShutdownRefusesNewTasks(t *testing.T) {
	mem := storetest.New()
	seedProject(t, mem)
	seedAudit(t, mem, "audit-1", nil)

	orch := New(Deps{
		Store:   mem,
		Repos:   &blockingRepos{started: make(chan struct{}, 1)},
		LLM:     &scriptedLLM{},
		Planner: &fakePlanner{},
		Bus:     progress.NewBus(mem, nil),
		Tokens:  tokens.NewAccountant(mem),
	})
	runner := NewRunner(orch, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	assert.ErrorIs(t, runner.Start("audit-1", "test-key"), ErrShuttingDown)
}

func TestRunnerShutdownDrainsRunningTask(t *testing.T) {
	mem := storetest.New()
	seedProject(t, mem)
	audit := seedAudit(t, mem, "audit-1", nil)

	repos := &blockingRepos{started: make(chan struct{}, 1)}
	orch := New(Deps{
		Store:   mem,
		Repos:   repos,
		LLM:     &scriptedLLM{},
		Planner: &fakePlanner{},
		Bus:     progress.NewBus(mem, nil),
		Tokens:  tokens.NewAccountant(mem),
	})
	runner := NewRunner(orch, time.Minute)

	require.NoError(t, runner.Start(audit.ID, "test-key"))
	select {
	case <-repos.started:
	case <-time.After(5 * time.Second):
		t.Fatal("audit task never reached the clone phase")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))
	assert.Equal(t, 0, runner.Running())

	// The drained task wrote its terminal status before Shutdown returned.
	stored, err := mem.GetAudit(context.Background(), audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditFailed, stored.Status)
}
