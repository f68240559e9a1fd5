package storage

import (
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no task matches.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned by CompareAndSetStatus when the task is
	// no longer in the expected status.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// Store defines the ledger storage operations.
type Store interface {
	// Transaction operations
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations

	// CreateOrGetTask inserts t unless a pending or running task already
	// holds t's key, in which case that task is returned with created=false.
	CreateOrGetTask(t models.Task) (task models.Task, created bool, err error)
	GetTask(id string) (models.Task, error)
	// GetLatestTask returns the newest task for targetID; an empty kind
	// matches any kind.
	GetLatestTask(targetID string, kind models.TaskKind) (models.Task, error)
	// CompareAndSetStatus moves task id from one status to another and
	// returns the updated task.
	CompareAndSetStatus(id string, from, to models.TaskStatus, message string) (models.Task, error)
	ListTasks(filter models.TaskFilter) ([]models.Task, int, error)
	ListActiveTasks() ([]models.Task, error)

	// Event operations
	SaveEvent(e models.TaskEvent) error
	ListEvents(taskID string) ([]models.TaskEvent, error)
}
