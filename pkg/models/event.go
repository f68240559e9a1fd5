package models

import "time"

// TaskEvent records one status change of a task for auditing.
type TaskEvent struct {
	ID       int64      `json:"id" db:"id"`                     // Auto-incremented event ID
	TaskID   string     `json:"task_id" db:"task_id"`           // Task being logged
	Status   TaskStatus `json:"status" db:"status"`             // Status entered
	Message  string     `json:"message,omitempty" db:"message"` // Details (e.g., error or row count)
	LoggedAt time.Time  `json:"logged_at" db:"logged_at"`       // Timestamp of the transition
}
