package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/backend"
	"github.com/bayuaji732/data-prep-api/pkg/catalog"
	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/format"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/bayuaji732/data-prep-api/pkg/staging"
)

const (
	// DefaultParseTimeout bounds reading and parsing one staged file.
	DefaultParseTimeout = 5 * time.Minute
	// DefaultWriteTimeout bounds one backend write or export.
	DefaultWriteTimeout = 10 * time.Minute

	shutdownMessage = "shutdown"
	restartMessage  = "interrupted by restart"
)

// TableStore is the SQL store validated datasets are written to and feature
// groups are read from.
type TableStore interface {
	backend.Writer
	Load(ctx context.Context, table string) (*rowset.RowSet, error)
}

// Exporter publishes training datasets.
type Exporter interface {
	Supports(format string) bool
	Export(ctx context.Context, rs *rowset.RowSet, dest, format string) (models.WriteResult, error)
}

// Deps are the collaborators an Engine drives. Online may be nil when no
// key-value store is configured; feature groups sent online then fail with
// BackendUnavailable.
type Deps struct {
	Ledger   *Ledger
	Registry *format.Registry
	Staged   staging.Store
	Catalog  catalog.Catalog
	Datasets TableStore
	Online   backend.Writer
	Offline  backend.Writer
	Exporter Exporter
	Logger   Logger
	Metrics  Metrics
}

type EngineConfig struct {
	Workers      int
	QueueSize    int
	ParseTimeout time.Duration
	WriteTimeout time.Duration
}

// Engine accepts submissions, records them in the ledger and runs them on
// a worker pool. Each task writes to exactly one backend.
type Engine struct {
	Deps
	cfg  EngineConfig
	pool *WorkerPool
}

func NewEngine(deps Deps, cfg EngineConfig) *Engine {
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = DefaultParseTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Engine{Deps: deps, cfg: cfg, pool: NewWorkerPool(cfg.QueueSize, deps.Logger)}
}

// Start launches the workers.
func (e *Engine) Start() {
	e.pool.Start(e.cfg.Workers)
}

// Stop waits for running tasks. Tasks still queued are failed.
func (e *Engine) Stop() {
	e.pool.Stop()
}

// Recover fails tasks a previous process left pending or running, so their
// keys accept new submissions.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	tasks, err := e.Ledger.Active(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		e.abandon(ctx, t, restartMessage)
	}
	if len(tasks) > 0 {
		e.Logger.Infof("Failed %d tasks interrupted by a restart", len(tasks))
	}
	return len(tasks), nil
}

// DatasetTable names the table a staged file is prepared into.
func DatasetTable(tableName, fileID string) string {
	return tableName + "_" + fileID
}

func (e *Engine) SubmitDataset(ctx context.Context, req models.DataPrepRequest) (models.TaskHandle, error) {
	if req.FileID == "" || req.TableName == "" {
		return models.TaskHandle{}, errkind.New(errkind.FormatMismatch, "table_name and file_id are required")
	}
	return e.submit(ctx, models.TaskKey{TargetID: req.FileID, Kind: models.DatasetPrepKind}, req)
}

func (e *Engine) SubmitFeatureGroup(ctx context.Context, req models.FeatureGroupRequest) (models.TaskHandle, error) {
	if req.TableName == "" {
		return models.TaskHandle{}, errkind.New(errkind.FormatMismatch, "table_name is required")
	}
	return e.submit(ctx, models.TaskKey{TargetID: req.TableName, Kind: models.FeatureMaterializeKind}, req)
}

func (e *Engine) SubmitTrainingDataset(ctx context.Context, req models.TrainingDatasetRequest) (models.TaskHandle, error) {
	if req.TDID == "" {
		return models.TaskHandle{}, errkind.New(errkind.FormatMismatch, "td_id is required")
	}
	return e.submit(ctx, models.TaskKey{TargetID: req.TDID, Kind: models.TrainingExportKind}, req)
}

func (e *Engine) submit(ctx context.Context, key models.TaskKey, req interface{}) (models.TaskHandle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.TaskHandle{}, errkind.Wrap(errkind.Internal, err, "encode request")
	}
	task, created, err := e.Ledger.CreateOrGet(ctx, key, payload)
	if err != nil {
		return models.TaskHandle{}, err
	}
	e.Metrics.TaskSubmitted(key.Kind, !created)
	handle := models.TaskHandle{
		TaskID:    task.ID,
		TargetID:  task.TargetID,
		Kind:      task.Kind,
		Status:    task.Status,
		Coalesced: !created,
	}
	if !created {
		return handle, nil
	}

	err = e.pool.Submit(ctx, Job{
		ID:      task.ID,
		Run:     func() { e.run(task) },
		Abandon: func() { e.abandon(context.Background(), task, shutdownMessage) },
	})
	if err != nil {
		e.Logger.Errorf("Failed to queue task %s: %v", task.ID, err)
		e.abandon(context.Background(), task, shutdownMessage)
		return models.TaskHandle{}, errkind.Wrap(errkind.Internal, err, "queue task")
	}
	return handle, nil
}

// abandon fails a task that will never run. A pending task passes through
// running so the ledger only ever sees allowed transitions.
func (e *Engine) abandon(ctx context.Context, t models.Task, reason string) {
	if t.Status == models.PendingTaskStatus {
		if _, err := e.Ledger.Transition(ctx, t.ID, models.RunningTaskStatus, ""); err != nil {
			e.ledgerFault(t, err)
			return
		}
	}
	msg := failureMessage(errkind.New(errkind.Internal, "%s", reason))
	if _, err := e.Ledger.Transition(ctx, t.ID, models.FailedTaskStatus, msg); err != nil {
		e.ledgerFault(t, err)
		return
	}
	e.Metrics.TaskFinished(t.Kind, models.FailedTaskStatus, 0, 0)
}

func (e *Engine) ledgerFault(t models.Task, err error) {
	e.Metrics.LedgerFault()
	e.Logger.Errorf("Ledger rejected update of task %s (%s %s): %v", t.ID, t.Kind, t.TargetID, err)
}

func (e *Engine) run(task models.Task) {
	ctx := context.Background()
	if _, err := e.Ledger.Transition(ctx, task.ID, models.RunningTaskStatus, ""); err != nil {
		e.ledgerFault(task, err)
		return
	}
	e.Logger.Infof("Starting task %s: %s %s", task.ID, task.Kind, task.TargetID)

	start := time.Now()
	message, rows, err := e.executeGuarded(ctx, task)
	elapsed := time.Since(start)

	status := models.SucceededTaskStatus
	if err != nil {
		status = models.FailedTaskStatus
		message = failureMessage(err)
		e.Logger.Errorf("Task %s (%s %s) failed after %s: %v", task.ID, task.Kind, task.TargetID, elapsed, err)
	} else {
		e.Logger.Infof("Task %s (%s %s) succeeded in %s: %s", task.ID, task.Kind, task.TargetID, elapsed, message)
	}
	if _, err := e.Ledger.Transition(ctx, task.ID, status, message); err != nil {
		e.ledgerFault(task, err)
		return
	}
	e.Metrics.TaskFinished(task.Kind, status, elapsed, rows)
}

// failureMessage renders err as "<Kind>: <detail>". Unclassified errors
// are reported as Internal.
func failureMessage(err error) string {
	return errkind.Message(err)
}

// executeGuarded turns a panic inside a pipeline into an Internal failure
// so the task still leaves the running state.
func (e *Engine) executeGuarded(ctx context.Context, task models.Task) (message string, rows int, err error) {
	defer func() {
		if r := recover(); r != nil {
			message, rows = "", 0
			err = errkind.New(errkind.Internal, "panic: %v", r)
		}
	}()
	return e.execute(ctx, task)
}

func (e *Engine) execute(ctx context.Context, task models.Task) (string, int, error) {
	switch task.Kind {
	case models.DatasetPrepKind:
		var req models.DataPrepRequest
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return "", 0, errkind.Wrap(errkind.Internal, err, "decode task payload")
		}
		return e.prepareDataset(ctx, req)
	case models.FeatureMaterializeKind:
		var req models.FeatureGroupRequest
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return "", 0, errkind.Wrap(errkind.Internal, err, "decode task payload")
		}
		return e.materializeFeatureGroup(ctx, req)
	case models.TrainingExportKind:
		var req models.TrainingDatasetRequest
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return "", 0, errkind.Wrap(errkind.Internal, err, "decode task payload")
		}
		return e.exportTrainingDataset(ctx, req)
	}
	return "", 0, errkind.New(errkind.Internal, "no pipeline for task kind %q", task.Kind)
}

func (e *Engine) prepareDataset(ctx context.Context, req models.DataPrepRequest) (string, int, error) {
	if _, ok := e.Registry.Lookup(req.FileType); !ok {
		return "", 0, errkind.New(errkind.FormatMismatch, "unsupported file type %q (supported: %s)",
			req.FileType, strings.Join(e.Registry.Types(), ", "))
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.ParseTimeout)
	defer cancel()
	f, err := e.Staged.Open(pctx, req.FileID, req.FileType)
	if err != nil {
		return "", 0, err
	}
	rs, err := e.Registry.Parse(pctx, f.Source, req.FileType)
	f.Close()
	if err != nil {
		return "", 0, err
	}

	wctx, wcancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer wcancel()
	res, err := e.Datasets.Write(wctx, backend.Destination{Table: DatasetTable(req.TableName, req.FileID)}, rs)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("processed %d rows from file %s into %s", res.Rows, req.FileID, res.Table), res.Rows, nil
}

// Target is where a feature group snapshot goes. It is resolved once per
// task from the request's online flag.
type Target interface {
	Write(ctx context.Context, e *Engine, rs *rowset.RowSet) (models.WriteResult, error)
	Store() string
}

type OnlineTarget struct {
	Table string
	Key   string
}

func (t OnlineTarget) Store() string { return "online" }

func (t OnlineTarget) Write(ctx context.Context, e *Engine, rs *rowset.RowSet) (models.WriteResult, error) {
	if e.Online == nil {
		return models.WriteResult{}, errkind.New(errkind.BackendUnavailable, "no online store configured")
	}
	return e.Online.Write(ctx, backend.Destination{Table: t.Table, Key: t.Key}, rs)
}

type OfflineTarget struct {
	Table string
}

func (t OfflineTarget) Store() string { return "offline" }

func (t OfflineTarget) Write(ctx context.Context, e *Engine, rs *rowset.RowSet) (models.WriteResult, error) {
	if e.Offline == nil {
		return models.WriteResult{}, errkind.New(errkind.BackendUnavailable, "no offline store configured")
	}
	return e.Offline.Write(ctx, backend.Destination{Table: t.Table}, rs)
}

func resolveTarget(req models.FeatureGroupRequest, fg models.FeatureGroup) Target {
	if req.Online {
		return OnlineTarget{Table: fg.TableName, Key: fg.PrimaryKey}
	}
	return OfflineTarget{Table: fg.TableName}
}

func (e *Engine) materializeFeatureGroup(ctx context.Context, req models.FeatureGroupRequest) (string, int, error) {
	fg, err := e.Catalog.FeatureGroup(ctx, req.TableName)
	if errkind.Is(err, errkind.NotFound) {
		fg = models.FeatureGroup{TableName: req.TableName}
	} else if err != nil {
		return "", 0, err
	}
	source := fg.SourceTable
	if source == "" {
		source = fg.TableName
	}
	target := resolveTarget(req, fg)

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	rs, err := e.Datasets.Load(wctx, source)
	if err != nil {
		return "", 0, err
	}
	if rs.Len() == 0 {
		return "", 0, errkind.New(errkind.EmptyDataset, "source table %s has no rows", source)
	}
	res, err := target.Write(wctx, e, rs)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("wrote %d rows of feature group %s to the %s store (%s)", res.Rows, fg.TableName, target.Store(), res.Mode),
		res.Rows, nil
}

func (e *Engine) exportTrainingDataset(ctx context.Context, req models.TrainingDatasetRequest) (string, int, error) {
	if req.DatasetFormat != "" && !e.Exporter.Supports(req.DatasetFormat) {
		return "", 0, errkind.New(errkind.FormatMismatch, "unsupported dataset format %q", req.DatasetFormat)
	}
	td, err := e.Catalog.TrainingDataset(ctx, req.TDID)
	if err != nil {
		return "", 0, err
	}
	dest, formatName := req.HDFSPath, req.DatasetFormat
	if dest == "" {
		dest = td.HDFSPath
	}
	if formatName == "" {
		formatName = td.DatasetFormat
	}
	if dest == "" {
		return "", 0, errkind.New(errkind.FormatMismatch, "training dataset %s has no destination path", req.TDID)
	}
	if td.SourceTable == "" {
		return "", 0, errkind.New(errkind.NotFound, "training dataset %s has no source table", req.TDID)
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	rs, err := e.Datasets.Load(wctx, td.SourceTable)
	if err != nil {
		return "", 0, err
	}
	if rs.Len() == 0 {
		return "", 0, errkind.New(errkind.EmptyDataset, "source table %s has no rows", td.SourceTable)
	}
	res, err := e.Exporter.Export(wctx, rs, dest, formatName)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("exported %d rows of training dataset %s to %s as %s", res.Rows, req.TDID, res.Table, strings.ToLower(formatName)),
		res.Rows, nil
}
