// Package catalog answers which datasets, feature groups and training
// datasets exist, and expands batch filters into candidates.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
)

type Catalog interface {
	FeatureGroup(ctx context.Context, table string) (models.FeatureGroup, error)
	TrainingDataset(ctx context.Context, tdID string) (models.TrainingDataset, error)
	// Datasets lists the staged files of table matching filter, ordered by
	// file id.
	Datasets(ctx context.Context, table string, filter models.BatchFilter) ([]models.DatasetRef, error)
	// TrainingDatasets lists training datasets matching filter, ordered by
	// td id.
	TrainingDatasets(ctx context.Context, filter models.BatchFilter) ([]models.TrainingDataset, error)
}

// Columns a batch filter may constrain.
var (
	DatasetFilterColumns         = []string{"file_id", "file_type", "status", "table_name"}
	TrainingDatasetFilterColumns = []string{"dataset_format", "hdfs_path", "source_table", "td_id"}
)

// checkFilter rejects filter keys outside allowed and returns the keys in
// sorted order.
func checkFilter(filter models.BatchFilter, allowed []string) ([]string, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errkind.New(errkind.FormatMismatch, "cannot filter on %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// sameValue compares a filter value with a column value by their printed
// form, so a JSON number 1 matches an integer column holding 1.
func sameValue(want, got interface{}) bool {
	return fmt.Sprint(want) == fmt.Sprint(got)
}
