package service

import (
	"context"
	"fmt"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Ledger owns task state. Every status change goes through Transition so
// that concurrent workers cannot move a task out of order.
type Ledger struct {
	store  storage.Store
	logger Logger
}

func NewLedger(store storage.Store, logger Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.PendingTaskStatus: {models.RunningTaskStatus},
	models.RunningTaskStatus: {models.SucceededTaskStatus, models.FailedTaskStatus},
}

func allowed(from, to models.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// withTx runs fn in a store transaction, committing when fn succeeds.
func (l *Ledger) withTx(op string, fn func(tx storage.Store) error) (err error) {
	txStore, err := l.store.Begin()
	if err != nil {
		l.logger.Errorf("Failed to begin transaction for %s: %v", op, err)
		return errkind.Wrap(errkind.BackendUnavailable, err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				l.logger.Errorf("Failed to rollback %s: %v", op, rollbackErr)
			}
		} else {
			if commitErr := txStore.Commit(); commitErr != nil {
				l.logger.Errorf("Failed to commit %s: %v", op, commitErr)
				err = errkind.Wrap(errkind.BackendUnavailable, commitErr, "commit")
			}
		}
	}()
	return fn(txStore)
}

// CreateOrGet creates a pending task for key, or returns the task already
// pending or running for it with created set to false.
func (l *Ledger) CreateOrGet(ctx context.Context, key models.TaskKey, payload []byte) (task models.Task, created bool, err error) {
	if key.TargetID == "" {
		return models.Task{}, false, errkind.New(errkind.FormatMismatch, "empty target id")
	}
	if _, err := models.ParseTaskKind(string(key.Kind)); err != nil {
		return models.Task{}, false, errkind.Wrap(errkind.FormatMismatch, err, "task kind")
	}
	if err := ctx.Err(); err != nil {
		return models.Task{}, false, errkind.Wrap(errkind.Timeout, err, "create task")
	}
	err = l.withTx("CreateOrGet", func(tx storage.Store) error {
		task, created, err = tx.CreateOrGetTask(models.Task{
			ID:       uuid.NewString(),
			TargetID: key.TargetID,
			Kind:     key.Kind,
			Status:   models.PendingTaskStatus,
			Payload:  payload,
		})
		if err != nil {
			return errkind.Wrapf(errkind.BackendUnavailable, err, "create task for %s/%s", key.Kind, key.TargetID)
		}
		if !created {
			return nil
		}
		return tx.SaveEvent(models.TaskEvent{TaskID: task.ID, Status: task.Status})
	})
	if err != nil {
		return models.Task{}, false, err
	}
	if created {
		l.logger.Infof("Created task %s for %s %s", task.ID, key.Kind, key.TargetID)
	} else {
		l.logger.Infof("Coalesced %s %s into task %s (%s)", key.Kind, key.TargetID, task.ID, task.Status)
	}
	return task, created, nil
}

// Transition moves a task along pending -> running -> succeeded|failed.
// Any other move fails with InvalidTransition.
func (l *Ledger) Transition(ctx context.Context, taskID string, to models.TaskStatus, message string) (task models.Task, err error) {
	err = l.withTx("Transition", func(tx storage.Store) error {
		current, err := tx.GetTask(taskID)
		if errors.Is(err, storage.ErrNotFound) {
			return errkind.New(errkind.NotFound, "task %s", taskID)
		}
		if err != nil {
			return errkind.Wrapf(errkind.BackendUnavailable, err, "read task %s", taskID)
		}
		if !allowed(current.Status, to) {
			return errkind.New(errkind.InvalidTransition, "task %s: %s -> %s", taskID, current.Status, to)
		}
		task, err = tx.CompareAndSetStatus(taskID, current.Status, to, message)
		if errors.Is(err, storage.ErrStatusConflict) {
			return errkind.New(errkind.InvalidTransition, "task %s: %s -> %s, now %s", taskID, current.Status, to, task.Status)
		}
		if err != nil {
			return errkind.Wrapf(errkind.BackendUnavailable, err, "update task %s", taskID)
		}
		return tx.SaveEvent(models.TaskEvent{TaskID: taskID, Status: to, Message: message})
	})
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// Get resolves id as a task id first, then as a target id, returning the
// newest task for that target.
func (l *Ledger) Get(ctx context.Context, id string) (models.StatusRecord, error) {
	task, err := l.Task(ctx, id)
	if errkind.Is(err, errkind.NotFound) {
		return l.GetByTarget(ctx, "", id)
	}
	if err != nil {
		return models.StatusRecord{}, err
	}
	return task.Record(), nil
}

// Task returns the full task, payload included.
func (l *Ledger) Task(_ context.Context, taskID string) (models.Task, error) {
	task, err := l.store.GetTask(taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Task{}, errkind.New(errkind.NotFound, "task %s", taskID)
	}
	if err != nil {
		return models.Task{}, errkind.Wrap(errkind.BackendUnavailable, err, "read task")
	}
	return task, nil
}

// GetByTarget returns the newest task for targetID. An empty kind matches
// any kind.
func (l *Ledger) GetByTarget(_ context.Context, kind models.TaskKind, targetID string) (models.StatusRecord, error) {
	task, err := l.store.GetLatestTask(targetID, kind)
	if errors.Is(err, storage.ErrNotFound) {
		return models.StatusRecord{}, errkind.New(errkind.NotFound, "no task for %s", describe(kind, targetID))
	}
	if err != nil {
		return models.StatusRecord{}, errkind.Wrap(errkind.BackendUnavailable, err, "read task")
	}
	return task.Record(), nil
}

func describe(kind models.TaskKind, targetID string) string {
	if kind == "" {
		return targetID
	}
	return fmt.Sprintf("%s %s", kind, targetID)
}

func (l *Ledger) List(_ context.Context, filter models.TaskFilter) (models.TaskPage, error) {
	filter = filter.Normalize()
	tasks, total, err := l.store.ListTasks(filter)
	if err != nil {
		return models.TaskPage{}, errkind.Wrap(errkind.BackendUnavailable, err, "list tasks")
	}
	items := make([]models.StatusRecord, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, t.Record())
	}
	return models.TaskPage{Total: total, Items: items, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// History returns the status changes of a task, oldest first.
func (l *Ledger) History(ctx context.Context, taskID string) ([]models.TaskEvent, error) {
	if _, err := l.Task(ctx, taskID); err != nil {
		return nil, err
	}
	events, err := l.store.ListEvents(taskID)
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "list events")
	}
	return events, nil
}

// Active lists pending and running tasks.
func (l *Ledger) Active(_ context.Context) ([]models.Task, error) {
	tasks, err := l.store.ListActiveTasks()
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "list active tasks")
	}
	return tasks, nil
}
