package models

// BatchFilter restricts a batch to catalog rows whose columns equal the
// given values. Keys must be columns the catalog allows filtering on.
type BatchFilter map[string]interface{}

// DatasetRef is one staged file listed in the dataset catalog.
type DatasetRef struct {
	FileID    string `json:"file_id" db:"file_id"`
	TableName string `json:"table_name" db:"table_name"`
	FileType  string `json:"file_type" db:"file_type"`
	Status    int    `json:"status" db:"status"`
}

// FeatureGroup describes where a feature group's rows come from.
type FeatureGroup struct {
	TableName   string `json:"table_name" db:"table_name"`
	Online      bool   `json:"online" db:"online"`
	SourceTable string `json:"source_table" db:"source_table"`
	PrimaryKey  string `json:"primary_key" db:"primary_key"` // empty means the first column
}

// TrainingDataset describes one export target.
type TrainingDataset struct {
	TDID          string `json:"td_id" db:"td_id"`
	HDFSPath      string `json:"hdfs_path" db:"hdfs_path"`
	DatasetFormat string `json:"dataset_format" db:"dataset_format"`
	SourceTable   string `json:"source_table" db:"source_table"`
}

// BatchFailure is one candidate that could not be submitted.
type BatchFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult summarizes a batch submission in candidate order.
type BatchResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	TaskIDs   []string       `json:"task_ids,omitempty"`
}
