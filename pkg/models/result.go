package models

// WriteMode says how a writer treated existing data at the destination.
type WriteMode string

const (
	UpsertWriteMode  WriteMode = "upsert"
	AppendWriteMode  WriteMode = "append"
	ReplaceWriteMode WriteMode = "replace"
)

func ParseWriteMode(s string) (WriteMode, bool) {
	switch m := WriteMode(s); m {
	case UpsertWriteMode, AppendWriteMode, ReplaceWriteMode:
		return m, true
	}
	return "", false
}

// WriteResult reports one completed write.
type WriteResult struct {
	Table    string    `json:"table"` // table, key prefix or file path
	Rows     int       `json:"rows"`
	Mode     WriteMode `json:"mode"`
	Replaced bool      `json:"replaced"` // previous contents were discarded
}
