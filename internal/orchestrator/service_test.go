package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernworks/mendd/internal/task"
)

// blockingGenerator parks every Generate call until released.
type blockingGenerator struct {
	release chan struct{}
	started chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, description string, contextPatterns []string) (task.GenerateResult, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return task.GenerateResult{}, ctx.Err()
	}
	return task.GenerateResult{Artifact: task.Artifact{ID: "a", Content: "script"}}, nil
}

func (g *blockingGenerator) Repair(ctx context.Context, artifact task.Artifact, errCtx task.ErrorContext, similarFixes []string) (task.RepairResult, error) {
	return task.RepairResult{}, nil
}

func waitForTerminal(t *testing.T, svc Service, id string) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		if tk.Status.IsTerminal() {
			return tk
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", id)
	return nil
}

func newPool(t *testing.T, cfg *PoolConfig) (Service, *engineFixture) {
	t.Helper()
	f := newFixture(t, nil)
	svc, err := NewService(cfg, f.engine, nil)
	require.NoError(t, err)
	return svc, f
}

func TestSubmitAndResolve(t *testing.T) {
	svc, f := newPool(t, nil)
	defer svc.Close()

	f.gen.generates = []task.GenerateResult{
		{Artifact: task.Artifact{ID: "a1", Content: "script"}, Cost: d(0.05)},
	}
	f.gate.verdicts = []task.GateResult{{Accepted: true}}
	f.exec.results = []task.ExecResult{{Passed: true}}
	f.val.rubrics = []task.Rubric{passingRubric()}

	accepted, err := svc.Submit(context.Background(), SubmitRequest{
		Description: "verify the footer links",
		Feature:     "marketing",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, accepted.Status)

	done := waitForTerminal(t, svc, accepted.ID)
	assert.Equal(t, task.StatusResolved, done.Status)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newPool(t, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), SubmitRequest{Feature: "f"})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), SubmitRequest{Description: "d"})
	require.Error(t, err)
}

func TestSubmitQueueFull(t *testing.T) {
	f := newFixture(t, nil)
	blocker := &blockingGenerator{
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	f.engine.generator = blocker

	// Both accepted tasks finish normally once the generator unblocks.
	f.gate.verdicts = []task.GateResult{{Accepted: true}, {Accepted: true}}
	f.exec.results = []task.ExecResult{{Passed: true}, {Passed: true}}
	f.val.rubrics = []task.Rubric{passingRubric(), passingRubric()}

	svc, err := NewService(&PoolConfig{Workers: 1, QueueSize: 1}, f.engine, nil)
	require.NoError(t, err)

	ctx := context.Background()
	req := SubmitRequest{Description: "d", Feature: "f"}

	// First task occupies the single worker.
	_, err = svc.Submit(ctx, req)
	require.NoError(t, err)
	<-blocker.started

	// Second task fills the buffer.
	_, err = svc.Submit(ctx, req)
	require.NoError(t, err)

	// Third is rejected without blocking.
	rejected, err := svc.Submit(ctx, req)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Nil(t, rejected)

	close(blocker.release)
	require.NoError(t, svc.Close())
}

func TestGetUnknownTask(t *testing.T) {
	svc, _ := newPool(t, nil)
	defer svc.Close()

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	svc, f := newPool(t, nil)
	defer svc.Close()

	f.gen.generates = []task.GenerateResult{
		{Artifact: task.Artifact{ID: "a1", Content: "s"}},
		{Artifact: task.Artifact{ID: "a2", Content: "s"}},
	}
	f.gate.verdicts = []task.GateResult{{Accepted: true}, {Accepted: true}}
	f.exec.results = []task.ExecResult{{Passed: true}, {Passed: true}}
	f.val.rubrics = []task.Rubric{passingRubric(), passingRubric()}

	first, err := svc.Submit(context.Background(), SubmitRequest{Description: "first", Feature: "f"})
	require.NoError(t, err)
	waitForTerminal(t, svc, first.ID)

	time.Sleep(5 * time.Millisecond)
	second, err := svc.Submit(context.Background(), SubmitRequest{Description: "second", Feature: "f"})
	require.NoError(t, err)
	waitForTerminal(t, svc, second.ID)

	out, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, second.ID, out[0].ID)
	assert.Equal(t, first.ID, out[1].ID)
}

func TestCloseRejectsFurtherSubmits(t *testing.T) {
	svc, _ := newPool(t, nil)
	require.NoError(t, svc.Close())

	_, err := svc.Submit(context.Background(), SubmitRequest{Description: "d", Feature: "f"})
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is harmless.
	require.NoError(t, svc.Close())
}

func TestSnapshotsAreCopies(t *testing.T) {
	svc, f := newPool(t, nil)
	defer svc.Close()

	f.gen.generates = []task.GenerateResult{
		{Artifact: task.Artifact{ID: "a1", Content: "script"}},
	}
	f.gate.verdicts = []task.GateResult{{Accepted: true}}
	f.exec.results = []task.ExecResult{{Passed: true}}
	f.val.rubrics = []task.Rubric{passingRubric()}

	accepted, err := svc.Submit(context.Background(), SubmitRequest{Description: "d", Feature: "f"})
	require.NoError(t, err)
	done := waitForTerminal(t, svc, accepted.ID)

	done.Artifact.Content = "mutated"
	fresh, err := svc.Get(context.Background(), accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, "script", fresh.Artifact.Content)
}
