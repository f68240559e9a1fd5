// Package service runs materialization tasks: the task ledger, the engine
// that executes each task kind and the batch coordinator.
package service

import (
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/models"
)

// Logger defines the logging interface used by the services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Metrics receives task outcomes.
type Metrics interface {
	TaskSubmitted(kind models.TaskKind, coalesced bool)
	TaskFinished(kind models.TaskKind, status models.TaskStatus, elapsed time.Duration, rows int)
	LedgerFault()
}

type nopMetrics struct{}

func (nopMetrics) TaskSubmitted(models.TaskKind, bool)                                 {}
func (nopMetrics) TaskFinished(models.TaskKind, models.TaskStatus, time.Duration, int) {}
func (nopMetrics) LedgerFault()                                                        {}
