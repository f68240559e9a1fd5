package models

// Response status strings.
const (
	AcceptedResponse  = "accepted"
	InFlightResponse  = "in_progress"
	ErrorResponse     = "error"
	CompletedResponse = "completed"
)

// DataPrepRequest asks for one staged file to be turned into a dataset.
type DataPrepRequest struct {
	TableName string `json:"table_name"`
	FileID    string `json:"file_id"`
	FileType  string `json:"file_type"` // csv, tsv, xls, xlsx or sav
}

type DataPrepResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	FileID  string       `json:"file_id,omitempty"`
	TaskID  string       `json:"task_id,omitempty"`
	Batch   *BatchResult `json:"batch,omitempty"`
}

// BatchDataPrepRequest selects staged files through the dataset catalog.
type BatchDataPrepRequest struct {
	TableName string      `json:"table_name"`
	Filters   BatchFilter `json:"filters,omitempty"`
}

// FeatureGroupRequest asks for a feature group snapshot. Online selects the
// key-value store, otherwise the warehouse is written.
type FeatureGroupRequest struct {
	TableName string `json:"table_name"`
	Online    bool   `json:"online"`
}

type FeatureGroupResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	TableName string `json:"table_name,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// TrainingDatasetRequest asks for a training dataset export.
type TrainingDatasetRequest struct {
	TDID          string `json:"td_id"`
	HDFSPath      string `json:"hdfs_path"`
	DatasetFormat string `json:"dataset_format"` // csv, tfrecord or parquet
}

type TrainingDatasetBatchRequest struct {
	DatasetFormat string `json:"dataset_format,omitempty"`
}

type TrainingDatasetResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	TDID    string       `json:"td_id,omitempty"`
	TaskID  string       `json:"task_id,omitempty"`
	Batch   *BatchResult `json:"batch,omitempty"`
}

// StatusResponse is the poll answer for a task or target id.
type StatusResponse struct {
	ID      string     `json:"id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
	TaskID  string     `json:"task_id,omitempty"`
}

type ListResponse struct {
	Total  int            `json:"total"`
	Items  []StatusRecord `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
