package metrics

import (
	"strconv"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dataprep"

const (
	MetricSubmissions  = "submissions_total"
	MetricTasks        = "tasks_total"
	MetricRowsWritten  = "rows_written_total"
	MetricTaskDuration = "task_duration_seconds"
	MetricLedgerFaults = "ledger_faults_total"
)

// Prometheus reports engine activity. It implements service.Metrics.
type Prometheus struct {
	submissions  *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	rows         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ledgerFaults prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSubmissions,
			Help:      "Submissions accepted, by task kind and whether they joined an in-flight task.",
		}, []string{"kind", "coalesced"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTasks,
			Help:      "Tasks finished, by kind and terminal status.",
		}, []string{"kind", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsWritten,
			Help:      "Rows written by succeeded tasks.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricTaskDuration,
			Help:      "Time from a task starting to run until it finished.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"kind"}),
		ledgerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricLedgerFaults,
			Help:      "Status updates the ledger refused.",
		}),
	}
	reg.MustRegister(p.submissions, p.tasks, p.rows, p.duration, p.ledgerFaults)
	return p
}

func (p *Prometheus) TaskSubmitted(kind models.TaskKind, coalesced bool) {
	p.submissions.WithLabelValues(string(kind), strconv.FormatBool(coalesced)).Inc()
}

func (p *Prometheus) TaskFinished(kind models.TaskKind, status models.TaskStatus, elapsed time.Duration, rows int) {
	p.tasks.WithLabelValues(string(kind), status.String()).Inc()
	if status == models.SucceededTaskStatus {
		p.rows.WithLabelValues(string(kind)).Add(float64(rows))
	}
	if elapsed > 0 {
		p.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}

func (p *Prometheus) LedgerFault() {
	p.ledgerFaults.Inc()
}
