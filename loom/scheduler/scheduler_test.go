package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/tursodatabase/go-libsql"

	loomdb "github.com/taskloom/taskloom/loom/db"
	"github.com/taskloom/taskloom/loom/tasks"
)

func newTestStore(t *testing.T) *tasks.Store {
	t.Helper()
	handle, err := sql.Open("libsql", "file:"+filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	require.NoError(t, loomdb.Migrate(handle))
	return tasks.NewStore(handle)
}

func newSweeper(t *testing.T, store *tasks.Store) *Sweeper {
	t.Helper()
	sweeper, err := New("@every 1h", store, zerolog.Nop())
	require.NoError(t, err)
	return sweeper
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron spec", newTestStore(t), zerolog.Nop())
	require.Error(t, err)
}

func TestSweepReopensCompletedRecurringTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := time.Now().UTC().AddDate(0, 0, -1).Truncate(time.Second)
	task := &tasks.Task{
		UserID:             1,
		Title:              "water the plants",
		RecurrencePattern:  tasks.RecurDaily,
		RecurrenceInterval: 1,
		DueDate:            &due,
	}
	require.NoError(t, store.Create(ctx, task))
	_, err := store.Complete(ctx, 1, task.ID)
	require.NoError(t, err)

	reopened, err := newSweeper(t, store).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened)

	got, err := store.Get(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.After(time.Now().UTC()), "next due date must be in the future, got %v", got.DueDate)
}

func TestSweepSkipsNonRecurringAndPendingTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	oneOff := &tasks.Task{UserID: 1, Title: "one-off"}
	require.NoError(t, store.Create(ctx, oneOff))
	_, err := store.Complete(ctx, 1, oneOff.ID)
	require.NoError(t, err)

	pending := &tasks.Task{
		UserID:             1,
		Title:              "weekly report",
		RecurrencePattern:  tasks.RecurWeekly,
		RecurrenceInterval: 1,
	}
	require.NoError(t, store.Create(ctx, pending))

	reopened, err := newSweeper(t, store).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, reopened)

	got, err := store.Get(ctx, 1, oneOff.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed, "completed one-off tasks stay completed")
}

func TestSweepIsIdempotentPerCompletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &tasks.Task{
		UserID:             1,
		Title:              "stand-up notes",
		RecurrencePattern:  tasks.RecurDaily,
		RecurrenceInterval: 1,
	}
	require.NoError(t, store.Create(ctx, task))
	_, err := store.Complete(ctx, 1, task.ID)
	require.NoError(t, err)

	sweeper := newSweeper(t, store)

	reopened, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened)

	// The task is pending again, so a second sweep finds nothing.
	reopened, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, reopened)
}

func TestSweepStopsAtRecurrenceEndDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	end := time.Now().UTC().AddDate(0, 0, -2)
	due := end.AddDate(0, 0, -5)
	expired := &tasks.Task{
		UserID:             1,
		Title:              "conference prep",
		RecurrencePattern:  tasks.RecurDaily,
		RecurrenceInterval: 1,
		DueDate:            &due,
		RecurrenceEndDate:  &end,
	}
	require.NoError(t, store.Create(ctx, expired))
	_, err := store.Complete(ctx, 1, expired.ID)
	require.NoError(t, err)

	farEnd := time.Now().UTC().AddDate(1, 0, 0)
	active := &tasks.Task{
		UserID:             1,
		Title:              "daily journal",
		RecurrencePattern:  tasks.RecurDaily,
		RecurrenceInterval: 1,
		RecurrenceEndDate:  &farEnd,
	}
	require.NoError(t, store.Create(ctx, active))
	_, err = store.Complete(ctx, 1, active.ID)
	require.NoError(t, err)

	reopened, err := newSweeper(t, store).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened)

	got, err := store.Get(ctx, 1, expired.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed, "a finished recurrence stays completed")

	got, err = store.Get(ctx, 1, active.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

func TestNextOccurrenceSkipsMissedSteps(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -10)
	task := &tasks.Task{
		RecurrencePattern:  tasks.RecurDaily,
		RecurrenceInterval: 3,
		DueDate:            &due,
	}

	next := nextOccurrence(task, now)

	assert.True(t, next.After(now))
	// Steps stay aligned to the original due date: -10d +3d +3d +3d +3d = +2d.
	assert.Equal(t, now.AddDate(0, 0, 2), next)
}
