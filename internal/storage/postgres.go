package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

const taskColumns = "id, target_id, kind, status, message, payload, created_at, updated_at"

// conflict retries for CreateOrGetTask when the holder of a key finishes
// between the insert and the lookup
const createAttempts = 3

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// DB returns the underlying pool, nil inside a transaction.
func (s *PostgresStore) DB() *sqlx.DB {
	db, _ := s.db.(*sqlx.DB)
	return db
}

// payloadArg maps an empty payload to SQL NULL; jsonb rejects ''.
func payloadArg(p []byte) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

// CreateOrGetTask relies on the partial unique index over active tasks, so
// two concurrent submitters for one key can never both insert.
func (s *PostgresStore) CreateOrGetTask(t models.Task) (models.Task, bool, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		var created models.Task
		err := s.db.Get(&created, `
			INSERT INTO tasks (id, target_id, kind, status, message, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (target_id, kind) WHERE status IN (1, 2) DO NOTHING
			RETURNING `+taskColumns,
			t.ID, t.TargetID, t.Kind, t.Status, t.Message, payloadArg(t.Payload))
		if err == nil {
			return created, true, nil
		}
		if err != sql.ErrNoRows {
			return models.Task{}, false, errors.Wrap(err, "insert task")
		}

		var existing models.Task
		err = s.db.Get(&existing, `
			SELECT `+taskColumns+` FROM tasks
			WHERE target_id = $1 AND kind = $2 AND status IN (1, 2)`,
			t.TargetID, t.Kind)
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return models.Task{}, false, errors.Wrap(err, "get active task")
		}
	}
	return models.Task{}, false, errors.Errorf("task key %s/%s kept changing during create", t.Kind, t.TargetID)
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetLatestTask(targetID string, kind models.TaskKind) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, `
		SELECT `+taskColumns+` FROM tasks
		WHERE target_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, id
		LIMIT 1`, targetID, string(kind))
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) CompareAndSetStatus(id string, from, to models.TaskStatus, message string) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, `
		UPDATE tasks
		SET status = $1,
		message = $2,
		updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = $4
		RETURNING `+taskColumns,
		to, message, id, from)
	if err == nil {
		return task, nil
	}
	if err != sql.ErrNoRows {
		return models.Task{}, errors.Wrapf(err, "update task %s", id)
	}
	current, err := s.GetTask(id)
	if err != nil {
		return models.Task{}, err
	}
	return current, storage.ErrStatusConflict
}

func (s *PostgresStore) ListTasks(filter models.TaskFilter) ([]models.Task, int, error) {
	filter = filter.Normalize()
	var (
		where []string
		args  []interface{}
	)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.Get(&total, "SELECT COUNT(*) FROM tasks"+clause, args...); err != nil {
		return nil, 0, errors.Wrap(err, "count tasks")
	}
	tasks := []models.Task{}
	query := fmt.Sprintf("SELECT %s FROM tasks%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		taskColumns, clause, len(args)+1, len(args)+2)
	if err := s.db.Select(&tasks, query, append(args, filter.Limit, filter.Offset)...); err != nil {
		return nil, 0, errors.Wrap(err, "list tasks")
	}
	return tasks, total, nil
}

func (s *PostgresStore) ListActiveTasks() ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT "+taskColumns+" FROM tasks WHERE status IN (1, 2) ORDER BY created_at DESC, id")
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) SaveEvent(e models.TaskEvent) error {
	_, err := s.db.Exec("INSERT INTO task_events (task_id, status, message) VALUES ($1, $2, $3)",
		e.TaskID, e.Status, e.Message)
	return err
}

func (s *PostgresStore) ListEvents(taskID string) ([]models.TaskEvent, error) {
	var events []models.TaskEvent
	err := s.db.Select(&events, "SELECT id, task_id, status, message, logged_at FROM task_events WHERE task_id = $1 ORDER BY id", taskID)
	if err != nil {
		return nil, err
	}
	return events, nil
}
