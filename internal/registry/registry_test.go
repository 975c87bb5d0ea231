package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, idgen.New())
}

func TestWorkerLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)
	require.True(t, types.ValidID(id))

	running, err := reg.GetRunningWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, types.WorkerRunning, running[0].Status)

	require.NoError(t, reg.CompleteWorker(ctx, id))

	running, err = reg.GetRunningWorkers(ctx)
	require.NoError(t, err)
	require.Empty(t, running)

	all, err := reg.GetAllWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, types.WorkerCompleted, all[0].Status)
	require.NotNil(t, all[0].CompletedAt)
}

func TestFailWorkerRecordsError(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)

	require.NoError(t, reg.FailWorker(ctx, id, types.ErrPromptTooLong))

	all, err := reg.GetAllWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, types.WorkerFailed, all[0].Status)
	require.NotNil(t, all[0].Error)
	require.Equal(t, types.ErrPromptTooLong.Error(), *all[0].Error)
}

func TestRecoverKilledTransitionsOnlyRunning(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	running, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)
	done, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)
	require.NoError(t, reg.CompleteWorker(ctx, done))

	killed, err := reg.RecoverKilled(ctx)
	require.NoError(t, err)
	require.Len(t, killed, 1)
	require.Equal(t, running, killed[0].ID)
	require.Equal(t, types.WorkerKilled, killed[0].Status)

	all, err := reg.GetAllWorkers(ctx)
	require.NoError(t, err)
	for _, w := range all {
		if w.ID == done {
			require.Equal(t, types.WorkerCompleted, w.Status)
		}
		if w.ID == running {
			require.Equal(t, types.WorkerKilled, w.Status)
		}
	}
}

func TestBackgroundReportSurfacing(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.FileReport(ctx, "compaction", `{"note":"ok"}`)
	require.NoError(t, err)

	unsurfaced, err := reg.GetUnsurfaced(ctx)
	require.NoError(t, err)
	require.Len(t, unsurfaced, 1)
	require.Equal(t, id, unsurfaced[0].ID)

	require.NoError(t, reg.MarkSurfaced(ctx, []string{id}))

	unsurfaced, err = reg.GetUnsurfaced(ctx)
	require.NoError(t, err)
	require.Empty(t, unsurfaced)
}

func TestBackgroundTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.CreateTask(ctx, "ltm-reflect", "summarize week")
	require.NoError(t, err)

	task, ok, err := reg.GetTask(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.WorkerPending, task.Status)

	require.NoError(t, reg.CompleteTask(ctx, id, `{"done":true}`))

	task, ok, err = reg.GetTask(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.WorkerCompleted, task.Status)
	require.NotNil(t, task.Result)
}

func TestListTasksFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	a, err := reg.CreateTask(ctx, "research", "a")
	require.NoError(t, err)
	b, err := reg.CreateTask(ctx, "research", "b")
	require.NoError(t, err)
	require.NoError(t, reg.CompleteTask(ctx, a, "{}"))

	pending := types.WorkerPending
	tasks, err := reg.ListTasks(ctx, &pending, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, b, tasks[0].ID)

	all, err := reg.ListTasks(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRecoverKilledTasks(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.CreateTask(ctx, "research", "long running")
	require.NoError(t, err)

	killed, err := reg.RecoverKilledTasks(ctx)
	require.NoError(t, err)
	require.Len(t, killed, 1)
	require.Equal(t, id, killed[0].ID)
	require.Equal(t, types.WorkerKilled, killed[0].Status)
}

func TestTaskResultQueueFIFOAndDrain(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	has, err := reg.HasQueuedResults(ctx)
	require.NoError(t, err)
	require.False(t, has)

	taskID, err := reg.CreateTask(ctx, "research", "task")
	require.NoError(t, err)

	_, err = reg.QueueResult(ctx, taskID, "first")
	require.NoError(t, err)
	_, err = reg.QueueResult(ctx, taskID, "second")
	require.NoError(t, err)

	has, err = reg.HasQueuedResults(ctx)
	require.NoError(t, err)
	require.True(t, has)

	entries, err := reg.DrainQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Content)
	require.Equal(t, "second", entries[1].Content)

	entries, err = reg.DrainQueue(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAlarmDueAndFired(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	dueID, err := reg.CreateAlarm(ctx, past, "check in")
	require.NoError(t, err)
	_, err = reg.CreateAlarm(ctx, future, "not yet")
	require.NoError(t, err)

	due, err := reg.GetDueAlarms(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, dueID, due[0].ID)

	require.NoError(t, reg.MarkAlarmFired(ctx, dueID))

	due, err = reg.GetDueAlarms(ctx, time.Now())
	require.NoError(t, err)
	require.Empty(t, due)

	unfired, err := reg.ListAlarms(ctx, false)
	require.NoError(t, err)
	require.Len(t, unfired, 1)

	all, err := reg.ListAlarms(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
