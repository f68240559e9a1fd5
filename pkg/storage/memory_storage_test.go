package storage_test

import (
	"sync"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(target string, kind models.TaskKind) models.Task {
	return models.Task{
		ID:       uuid.NewString(),
		TargetID: target,
		Kind:     kind,
		Status:   models.PendingTaskStatus,
	}
}

func TestMemoryStore(t *testing.T) {
	t.Run("CreateOrGetTask", func(t *testing.T) {
		store := storage.NewMemoryStore()
		first := newTask("12345", models.DatasetPrepKind)
		first.Payload = []byte(`{"file_id":"12345"}`)
		created, ok, err := store.CreateOrGetTask(first)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, created.CreatedAt.IsZero())

		// the stored payload is a copy
		first.Payload[0] = 'X'
		got, err := store.GetTask(first.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"file_id":"12345"}`, string(got.Payload))

		existing, ok, err := store.CreateOrGetTask(newTask("12345", models.DatasetPrepKind))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, first.ID, existing.ID)

		_, _, err = store.CreateOrGetTask(models.Task{ID: first.ID, TargetID: "other", Kind: models.DatasetPrepKind})
		assert.Error(t, err)
	})

	t.Run("CompareAndSetStatus", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task, _, err := store.CreateOrGetTask(newTask("fg", models.FeatureMaterializeKind))
		require.NoError(t, err)

		running, err := store.CompareAndSetStatus(task.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		require.NoError(t, err)
		assert.Equal(t, models.RunningTaskStatus, running.Status)
		assert.True(t, running.UpdatedAt.After(task.UpdatedAt))

		current, err := store.CompareAndSetStatus(task.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		assert.ErrorIs(t, err, storage.ErrStatusConflict)
		assert.Equal(t, models.RunningTaskStatus, current.Status)

		_, err = store.CompareAndSetStatus("missing", models.PendingTaskStatus, models.RunningTaskStatus, "")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		done, err := store.CompareAndSetStatus(task.ID, models.RunningTaskStatus, models.SucceededTaskStatus, "wrote 3 rows")
		require.NoError(t, err)
		assert.Equal(t, "wrote 3 rows", done.Message)

		active, err := store.ListActiveTasks()
		require.NoError(t, err)
		assert.Empty(t, active)

		next, ok, err := store.CreateOrGetTask(newTask("fg", models.FeatureMaterializeKind))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, task.ID, next.ID)
	})

	t.Run("GetLatestTask", func(t *testing.T) {
		store := storage.NewMemoryStore()
		old, _, err := store.CreateOrGetTask(newTask("td-1", models.TrainingExportKind))
		require.NoError(t, err)
		_, err = store.CompareAndSetStatus(old.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		require.NoError(t, err)
		_, err = store.CompareAndSetStatus(old.ID, models.RunningTaskStatus, models.FailedTaskStatus, "Timeout: export")
		require.NoError(t, err)
		latest, _, err := store.CreateOrGetTask(newTask("td-1", models.TrainingExportKind))
		require.NoError(t, err)

		got, err := store.GetLatestTask("td-1", models.TrainingExportKind)
		require.NoError(t, err)
		assert.Equal(t, latest.ID, got.ID)

		got, err = store.GetLatestTask("td-1", "")
		require.NoError(t, err)
		assert.Equal(t, latest.ID, got.ID)

		_, err = store.GetLatestTask("td-1", models.DatasetPrepKind)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListTasks", func(t *testing.T) {
		store := storage.NewMemoryStore()
		var ids []string
		for _, target := range []string{"a", "b", "c"} {
			task, _, err := store.CreateOrGetTask(newTask(target, models.DatasetPrepKind))
			require.NoError(t, err)
			ids = append(ids, task.ID)
		}
		_, _, err := store.CreateOrGetTask(newTask("fg", models.FeatureMaterializeKind))
		require.NoError(t, err)

		tasks, total, err := store.ListTasks(models.TaskFilter{Kind: models.DatasetPrepKind, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, tasks, 2)
		assert.Equal(t, ids[2], tasks[0].ID)
		assert.Equal(t, ids[1], tasks[1].ID)

		tasks, total, err = store.ListTasks(models.TaskFilter{Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Empty(t, tasks)
	})

	t.Run("Events", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task, _, err := store.CreateOrGetTask(newTask("e", models.DatasetPrepKind))
		require.NoError(t, err)

		require.NoError(t, store.SaveEvent(models.TaskEvent{TaskID: task.ID, Status: models.PendingTaskStatus}))
		require.NoError(t, store.SaveEvent(models.TaskEvent{TaskID: task.ID, Status: models.RunningTaskStatus}))
		assert.ErrorIs(t, store.SaveEvent(models.TaskEvent{TaskID: "missing"}), storage.ErrNotFound)

		events, err := store.ListEvents(task.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(1), events[0].ID)
		assert.Equal(t, int64(2), events[1].ID)
		assert.False(t, events[0].LoggedAt.IsZero())
	})

	t.Run("Transactions", func(t *testing.T) {
		store := storage.NewMemoryStore()
		tx, err := store.Begin()
		require.NoError(t, err)
		task, _, err := tx.CreateOrGetTask(newTask("tx", models.DatasetPrepKind))
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Error(t, tx.Commit())
		assert.Error(t, tx.Rollback())
		_, _, err = tx.CreateOrGetTask(newTask("tx2", models.DatasetPrepKind))
		assert.Error(t, err)

		// committed writes are visible outside the transaction
		_, err = store.GetTask(task.ID)
		assert.NoError(t, err)
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		store := storage.NewMemoryStore()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.CreateOrGetTask(newTask("same", models.DatasetPrepKind))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})
}
