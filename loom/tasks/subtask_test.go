package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubtaskCRUD(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	task := &Task{UserID: 11, Title: "plan the trip"}
	require.NoError(t, store.Create(ctx, task))

	second := &Subtask{TaskID: task.ID, Title: "book the hotel", Position: 1}
	require.NoError(t, store.CreateSubtask(ctx, 11, second))
	first := &Subtask{TaskID: task.ID, Title: "pick the dates", Position: 0}
	require.NoError(t, store.CreateSubtask(ctx, 11, first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	// Listed by position, not insertion order.
	listed, err := store.ListSubtasks(ctx, 11, task.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "pick the dates", listed[0].Title)
	assert.Equal(t, "book the hotel", listed[1].Title)

	done := true
	updated, err := store.UpdateSubtask(ctx, 11, first.ID, SubtaskPatch{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "pick the dates", updated.Title)

	require.NoError(t, store.DeleteSubtask(ctx, 11, second.ID))
	listed, err = store.ListSubtasks(ctx, 11, task.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, store.Delete(ctx, 11, task.ID))
}

func TestSubtaskOwnershipScoping(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	task := &Task{UserID: 12, Title: "private checklist"}
	require.NoError(t, store.Create(ctx, task))
	sub := &Subtask{TaskID: task.ID, Title: "step one"}
	require.NoError(t, store.CreateSubtask(ctx, 12, sub))

	// Another user cannot reach the checklist through any operation.
	err := store.CreateSubtask(ctx, 13, &Subtask{TaskID: task.ID, Title: "planted"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ListSubtasks(ctx, 13, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	title := "stolen"
	_, err = store.UpdateSubtask(ctx, 13, sub.ID, SubtaskPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteSubtask(ctx, 13, sub.ID), ErrNotFound)

	listed, err := store.ListSubtasks(ctx, 12, task.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "step one", listed[0].Title)

	require.NoError(t, store.Delete(ctx, 12, task.ID))
}

func TestDeleteTaskRemovesSubtasks(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	task := &Task{UserID: 14, Title: "short-lived"}
	require.NoError(t, store.Create(ctx, task))
	sub := &Subtask{TaskID: task.ID, Title: "orphan candidate"}
	require.NoError(t, store.CreateSubtask(ctx, 14, sub))

	require.NoError(t, store.Delete(ctx, 14, task.ID))

	done := true
	_, err := store.UpdateSubtask(ctx, 14, sub.ID, SubtaskPatch{Completed: &done})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ListSubtasks(ctx, 14, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
