package storage_test

import (
	"sync"
	"testing"

	internal_storage "github.com/bayuaji732/data-prep-api/internal/storage"
	"github.com/bayuaji732/data-prep-api/internal/testutil"
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
		Payload:  []byte(`{"file_id":"` + target + `"}`),
	}
}

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		txStore, err := store.Begin()
		require.NoError(t, err)
		t.Cleanup(func() {
			txStore.Rollback()
			store.Close()
		})
		return txStore.(*internal_storage.PostgresStore)
	}

	t.Run("CreateOrGetTask", func(t *testing.T) {
		store := newTxStore(t)
		first := newTask("12345", models.DatasetPrepKind)
		created, ok, err := store.CreateOrGetTask(first)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, first.ID, created.ID)
		assert.JSONEq(t, `{"file_id":"12345"}`, string(created.Payload))
		assert.False(t, created.CreatedAt.IsZero())

		second := newTask("12345", models.DatasetPrepKind)
		existing, ok, err := store.CreateOrGetTask(second)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, first.ID, existing.ID)

		other, ok, err := store.CreateOrGetTask(newTask("12345", models.FeatureMaterializeKind))
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("KeyReleasedAfterTerminalStatus", func(t *testing.T) {
		store := newTxStore(t)
		first, _, err := store.CreateOrGetTask(newTask("td-1", models.TrainingExportKind))
		require.NoError(t, err)
		_, err = store.CompareAndSetStatus(first.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		require.NoError(t, err)
		_, err = store.CompareAndSetStatus(first.ID, models.RunningTaskStatus, models.FailedTaskStatus, "Internal: boom")
		require.NoError(t, err)

		next, ok, err := store.CreateOrGetTask(newTask("td-1", models.TrainingExportKind))
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, first.ID, next.ID)
	})

	t.Run("CompareAndSetStatus", func(t *testing.T) {
		store := newTxStore(t)
		task, _, err := store.CreateOrGetTask(newTask("f-1", models.DatasetPrepKind))
		require.NoError(t, err)

		updated, err := store.CompareAndSetStatus(task.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		assert.NoError(t, err)
		assert.Equal(t, models.RunningTaskStatus, updated.Status)

		current, err := store.CompareAndSetStatus(task.ID, models.PendingTaskStatus, models.RunningTaskStatus, "")
		assert.ErrorIs(t, err, storage.ErrStatusConflict)
		assert.Equal(t, models.RunningTaskStatus, current.Status)

		_, err = store.CompareAndSetStatus(uuid.NewString(), models.PendingTaskStatus, models.RunningTaskStatus, "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("GetTask", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetTask(uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)

		task, _, err := store.CreateOrGetTask(newTask("f-2", models.DatasetPrepKind))
		require.NoError(t, err)
		got, err := store.GetTask(task.ID)
		assert.NoError(t, err)
		assert.Equal(t, "f-2", got.TargetID)
		assert.Equal(t, models.DatasetPrepKind, got.Kind)
	})

	t.Run("GetLatestTask", func(t *testing.T) {
		store := newTxStore(t)
		task, _, err := store.CreateOrGetTask(newTask("customer_features", models.FeatureMaterializeKind))
		require.NoError(t, err)

		got, err := store.GetLatestTask("customer_features", "")
		assert.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)

		_, err = store.GetLatestTask("customer_features", models.DatasetPrepKind)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListTasks", func(t *testing.T) {
		store := newTxStore(t)
		for _, target := range []string{"a", "b", "c"} {
			_, _, err := store.CreateOrGetTask(newTask(target, models.DatasetPrepKind))
			require.NoError(t, err)
		}
		_, _, err := store.CreateOrGetTask(newTask("d", models.TrainingExportKind))
		require.NoError(t, err)

		tasks, total, err := store.ListTasks(models.TaskFilter{Kind: models.DatasetPrepKind, Limit: 2})
		assert.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, tasks, 2)

		pending := models.PendingTaskStatus
		tasks, total, err = store.ListTasks(models.TaskFilter{Status: &pending, Offset: 3})
		assert.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, tasks, 1)

		active, err := store.ListActiveTasks()
		assert.NoError(t, err)
		assert.Len(t, active, 4)
	})

	t.Run("Events", func(t *testing.T) {
		store := newTxStore(t)
		task, _, err := store.CreateOrGetTask(newTask("f-3", models.DatasetPrepKind))
		require.NoError(t, err)
		assert.NoError(t, store.SaveEvent(models.TaskEvent{TaskID: task.ID, Status: models.PendingTaskStatus}))
		assert.NoError(t, store.SaveEvent(models.TaskEvent{TaskID: task.ID, Status: models.RunningTaskStatus}))

		events, err := store.ListEvents(task.ID)
		assert.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.RunningTaskStatus, events[1].Status)
	})

	t.Run("ConcurrentCreateCoalesces", func(t *testing.T) {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		defer store.Close()
		defer testDB.Truncate(t, "tasks")

		const callers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[string]bool{}
			created int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				task, ok, err := store.CreateOrGetTask(newTask("hot", models.FeatureMaterializeKind))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				ids[task.ID] = true
				if ok {
					created++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)
	})
}
