package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/service"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	acceptedStatus = "accepted"
	errorStatus    = "error"

	maxRequestBody = 1 << 20
)

// Logger is the logging the handlers need.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Server exposes the engine over JSON.
type Server struct {
	engine  *service.Engine
	batch   *service.BatchCoordinator
	ledger  *service.Ledger
	logger  Logger
	version string
	metrics http.Handler
}

// NewServer builds the handlers. metrics may be nil, in which case /metrics
// is not routed.
func NewServer(engine *service.Engine, batch *service.BatchCoordinator, ledger *service.Ledger, logger Logger, version string, metrics http.Handler) *Server {
	return &Server{engine: engine, batch: batch, ledger: ledger, logger: logger, version: version, metrics: metrics}
}

// Router returns the routes of the service.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.rootHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/datasets", s.submitDatasetHandler).Methods(http.MethodPost)
	api.HandleFunc("/datasets/batch", s.submitDatasetBatchHandler).Methods(http.MethodPost)
	api.HandleFunc("/feature-groups", s.submitFeatureGroupHandler).Methods(http.MethodPost)
	api.HandleFunc("/training-datasets", s.submitTrainingDatasetHandler).Methods(http.MethodPost)
	api.HandleFunc("/training-datasets/batch", s.submitTrainingDatasetBatchHandler).Methods(http.MethodPost)
	api.HandleFunc("/status/{id}", s.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/status/{id}/history", s.historyHandler).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.listTasksHandler).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting data prep server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Data Preparation API",
		"version": s.version,
	})
}

func (s *Server) submitDatasetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DataPrepRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, err := s.engine.SubmitDataset(r.Context(), req)
	if err != nil {
		s.fail(w, "submit dataset "+req.FileID, err, models.DataPrepResponse{Status: errorStatus, FileID: req.FileID})
		return
	}
	writeJSON(w, http.StatusAccepted, models.DataPrepResponse{
		Status:  acceptedStatus,
		Message: acceptedMessage(handle, "file "+req.FileID),
		FileID:  req.FileID,
		TaskID:  handle.TaskID,
	})
}

func (s *Server) submitDatasetBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.BatchDataPrepRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TableName == "" {
		s.fail(w, "dataset batch", errkind.New(errkind.FormatMismatch, "table_name is required"), models.DataPrepResponse{Status: errorStatus})
		return
	}
	res, err := s.batch.SubmitDatasetBatch(r.Context(), req)
	if err != nil {
		s.fail(w, "dataset batch for "+req.TableName, err, models.DataPrepResponse{Status: errorStatus})
		return
	}
	writeJSON(w, http.StatusAccepted, models.DataPrepResponse{
		Status:  acceptedStatus,
		Message: batchMessage(res, "files"),
		Batch:   &res,
	})
}

func (s *Server) submitFeatureGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FeatureGroupRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, err := s.engine.SubmitFeatureGroup(r.Context(), req)
	if err != nil {
		s.fail(w, "submit feature group "+req.TableName, err, models.FeatureGroupResponse{Status: errorStatus, TableName: req.TableName})
		return
	}
	writeJSON(w, http.StatusAccepted, models.FeatureGroupResponse{
		Status:    acceptedStatus,
		Message:   acceptedMessage(handle, "feature group "+req.TableName),
		TableName: req.TableName,
		TaskID:    handle.TaskID,
	})
}

func (s *Server) submitTrainingDatasetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TrainingDatasetRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, err := s.engine.SubmitTrainingDataset(r.Context(), req)
	if err != nil {
		s.fail(w, "submit training dataset "+req.TDID, err, models.TrainingDatasetResponse{Status: errorStatus, TDID: req.TDID})
		return
	}
	writeJSON(w, http.StatusAccepted, models.TrainingDatasetResponse{
		Status:  acceptedStatus,
		Message: acceptedMessage(handle, "training dataset "+req.TDID),
		TDID:    req.TDID,
		TaskID:  handle.TaskID,
	})
}

func (s *Server) submitTrainingDatasetBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TrainingDatasetBatchRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	res, err := s.batch.SubmitTrainingDatasetBatch(r.Context(), req)
	if err != nil {
		s.fail(w, "training dataset batch", err, models.TrainingDatasetResponse{Status: errorStatus})
		return
	}
	writeJSON(w, http.StatusAccepted, models.TrainingDatasetResponse{
		Status:  acceptedStatus,
		Message: batchMessage(res, "training datasets"),
		Batch:   &res,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "status of "+id, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{
		ID:      rec.TargetID,
		Status:  rec.Status,
		Message: rec.Message,
		TaskID:  rec.TaskID,
	})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "history of "+id, err, nil)
		return
	}
	events, err := s.ledger.History(r.Context(), rec.TaskID)
	if err != nil {
		s.fail(w, "history of "+id, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		s.fail(w, "list tasks", err, nil)
		return
	}
	page, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		s.fail(w, "list tasks", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse{
		Total:  page.Total,
		Items:  page.Items,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func parseTaskFilter(r *http.Request) (models.TaskFilter, error) {
	q := r.URL.Query()
	var filter models.TaskFilter
	if v := q.Get("kind"); v != "" {
		kind, err := models.ParseTaskKind(v)
		if err != nil {
			return filter, errkind.Wrap(errkind.FormatMismatch, err, "kind")
		}
		filter.Kind = kind
	}
	if v := q.Get("status"); v != "" {
		status, err := models.ParseTaskStatus(v)
		if err != nil {
			return filter, errkind.Wrap(errkind.FormatMismatch, err, "status")
		}
		filter.Status = &status
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errkind.New(errkind.FormatMismatch, "invalid %s %q", name, v)
		}
		*dst = n
	}
	return filter, nil
}

func acceptedMessage(h models.TaskHandle, what string) string {
	if h.Coalesced {
		return "Joined in-flight task for " + what
	}
	return "Processing " + what + " in background"
}

func batchMessage(res models.BatchResult, what string) string {
	return "Dispatched " + strconv.Itoa(res.Succeeded) + " of " + strconv.Itoa(res.Total) + " " + what
}

// decode reads a JSON body into v and answers 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.logger.Errorf("Invalid request body for %s: %v", r.URL.Path, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail answers with the status matching err's kind. body, when set, is the
// endpoint's own response shape; its Message is filled in here.
func (s *Server) fail(w http.ResponseWriter, op string, err error, body interface{}) {
	code := statusCode(errkind.KindOf(err))
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("Failed to %s: %v", op, err)
	}
	msg := errkind.Message(err)
	switch b := body.(type) {
	case models.DataPrepResponse:
		b.Message = msg
		writeJSON(w, code, b)
	case models.FeatureGroupResponse:
		b.Message = msg
		writeJSON(w, code, b)
	case models.TrainingDatasetResponse:
		b.Message = msg
		writeJSON(w, code, b)
	default:
		writeJSON(w, code, map[string]string{"error": msg})
	}
}

func statusCode(kind errkind.Kind) int {
	switch kind {
	case errkind.FormatMismatch, errkind.EmptyDataset:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case errkind.DuplicateInFlight, errkind.InvalidTransition:
		return http.StatusConflict
	case errkind.BackendUnavailable:
		return http.StatusServiceUnavailable
	case errkind.Timeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
