package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernworks/mendd/internal/escalation"
	"github.com/fernworks/mendd/internal/task"
)

func testStore(t *testing.T) (*Store, *nats.Conn) {
	t.Helper()

	srv, err := StartEmbedded(&EmbeddedConfig{
		Host:         "127.0.0.1",
		Port:         -1,
		StoreDir:     t.TempDir(),
		ReadyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	store, err := New(context.Background(), DefaultConfig(), nc, nil)
	require.NoError(t, err)
	return store, nc
}

func TestTaskRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	tk := task.New("verify the login page", "auth")
	tk.Status = task.StatusExecuting
	tk.Artifact = &task.Artifact{ID: "a1", Content: "script"}
	tk.CaptureBaseline([]string{"suite/a"})

	require.NoError(t, store.PutTask(ctx, tk))

	got, err := store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, task.StatusExecuting, got.Status)
	assert.Equal(t, "script", got.Artifact.Content)
	assert.Equal(t, []string{"suite/a"}, got.Baseline)
	assert.True(t, got.BaselineCaptured)
}

func TestGetTaskNotFound(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutTaskOverwrites(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	tk := task.New("t", "f")
	require.NoError(t, store.PutTask(ctx, tk))

	tk.Status = task.StatusResolved
	require.NoError(t, store.PutTask(ctx, tk))

	got, err := store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusResolved, got.Status)
}

func TestDeleteTask(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	tk := task.New("t", "f")
	require.NoError(t, store.PutTask(ctx, tk))
	require.NoError(t, store.DeleteTask(ctx, tk.ID))

	_, err := store.GetTask(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.DeleteTask(ctx, "missing"))
}

func TestEscalationEntries(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	out, err := store.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)

	first := &escalation.Entry{
		TaskID:   "task-1",
		Reason:   task.ReasonMaxRetriesExceeded,
		Priority: 0.76,
		Severity: escalation.SeverityHigh,
	}
	second := &escalation.Entry{
		TaskID:   "task-2",
		Reason:   task.ReasonLowConfidence,
		Priority: 0.40,
		Severity: escalation.SeverityMedium,
	}
	require.NoError(t, store.PutEntry(ctx, first))
	require.NoError(t, store.PutEntry(ctx, second))

	out, err = store.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byID := map[string]*escalation.Entry{}
	for _, e := range out {
		byID[e.TaskID] = e
	}
	assert.Equal(t, task.ReasonMaxRetriesExceeded, byID["task-1"].Reason)
	assert.InDelta(t, 0.40, byID["task-2"].Priority, 1e-9)

	// Resolving rewrites the same key.
	first.Resolved = true
	require.NoError(t, store.PutEntry(ctx, first))

	out, err = store.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestPublishTransition(t *testing.T) {
	store, nc := testStore(t)

	sub, err := nc.SubscribeSync("tasks.task-1.transition")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	store.PublishTransition(context.Background(), task.TransitionRecord{
		TaskID: "task-1",
		From:   task.StatusExecuting,
		To:     task.StatusValidating,
		Cost:   "0.07",
		At:     time.Now(),
	})

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"to":"validating"`)
}

func TestNewRequiresConnection(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig(), nil, nil)
	require.Error(t, err)
}
