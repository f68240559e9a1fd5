package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
)

// Memory is a Catalog held in maps, for tests and single-process runs.
type Memory struct {
	mu               sync.RWMutex
	datasets         map[string]models.DatasetRef
	featureGroups    map[string]models.FeatureGroup
	trainingDatasets map[string]models.TrainingDataset
}

func NewMemory() *Memory {
	return &Memory{
		datasets:         make(map[string]models.DatasetRef),
		featureGroups:    make(map[string]models.FeatureGroup),
		trainingDatasets: make(map[string]models.TrainingDataset),
	}
}

func (m *Memory) AddDataset(d models.DatasetRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.FileID] = d
}

func (m *Memory) AddFeatureGroup(fg models.FeatureGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.featureGroups[fg.TableName] = fg
}

func (m *Memory) AddTrainingDataset(td models.TrainingDataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingDatasets[td.TDID] = td
}

func (m *Memory) FeatureGroup(_ context.Context, table string) (models.FeatureGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fg, ok := m.featureGroups[table]
	if !ok {
		return models.FeatureGroup{}, errkind.New(errkind.NotFound, "feature group %s", table)
	}
	return fg, nil
}

func (m *Memory) TrainingDataset(_ context.Context, tdID string) (models.TrainingDataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	td, ok := m.trainingDatasets[tdID]
	if !ok {
		return models.TrainingDataset{}, errkind.New(errkind.NotFound, "training dataset %s", tdID)
	}
	return td, nil
}

func (m *Memory) Datasets(_ context.Context, table string, filter models.BatchFilter) ([]models.DatasetRef, error) {
	keys, err := checkFilter(filter, DatasetFilterColumns)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.DatasetRef{}
	for _, d := range m.datasets {
		if d.TableName != table {
			continue
		}
		cols := map[string]interface{}{
			"file_id":    d.FileID,
			"file_type":  d.FileType,
			"status":     d.Status,
			"table_name": d.TableName,
		}
		if matches(keys, filter, cols) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

func (m *Memory) TrainingDatasets(_ context.Context, filter models.BatchFilter) ([]models.TrainingDataset, error) {
	keys, err := checkFilter(filter, TrainingDatasetFilterColumns)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.TrainingDataset{}
	for _, td := range m.trainingDatasets {
		cols := map[string]interface{}{
			"dataset_format": td.DatasetFormat,
			"hdfs_path":      td.HDFSPath,
			"source_table":   td.SourceTable,
			"td_id":          td.TDID,
		}
		if matches(keys, filter, cols) {
			out = append(out, td)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TDID < out[j].TDID })
	return out, nil
}

func matches(keys []string, filter models.BatchFilter, cols map[string]interface{}) bool {
	for _, k := range keys {
		if !sameValue(filter[k], cols[k]) {
			return false
		}
	}
	return true
}
