package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/jmoiron/sqlx"
)

// SQL reads the catalog tables created by the migrations.
type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) FeatureGroup(ctx context.Context, table string) (models.FeatureGroup, error) {
	var fg models.FeatureGroup
	err := s.db.GetContext(ctx, &fg, s.db.Rebind(`
		SELECT table_name, online, source_table, primary_key
		FROM feature_groups WHERE table_name = ?`), table)
	if err == sql.ErrNoRows {
		return models.FeatureGroup{}, errkind.New(errkind.NotFound, "feature group %s", table)
	}
	if err != nil {
		return models.FeatureGroup{}, errkind.Wrap(errkind.BackendUnavailable, err, "read feature group")
	}
	return fg, nil
}

func (s *SQL) TrainingDataset(ctx context.Context, tdID string) (models.TrainingDataset, error) {
	var td models.TrainingDataset
	err := s.db.GetContext(ctx, &td, s.db.Rebind(`
		SELECT td_id, hdfs_path, dataset_format, source_table
		FROM training_datasets WHERE td_id = ?`), tdID)
	if err == sql.ErrNoRows {
		return models.TrainingDataset{}, errkind.New(errkind.NotFound, "training dataset %s", tdID)
	}
	if err != nil {
		return models.TrainingDataset{}, errkind.Wrap(errkind.BackendUnavailable, err, "read training dataset")
	}
	return td, nil
}

func (s *SQL) Datasets(ctx context.Context, table string, filter models.BatchFilter) ([]models.DatasetRef, error) {
	keys, err := checkFilter(filter, DatasetFilterColumns)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(keys, filter, []string{"table_name = ?"}, []interface{}{table})
	refs := []models.DatasetRef{}
	query := "SELECT file_id, table_name, file_type, status FROM datasets" + where + " ORDER BY file_id"
	if err := s.db.SelectContext(ctx, &refs, s.db.Rebind(query), args...); err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "list datasets")
	}
	return refs, nil
}

func (s *SQL) TrainingDatasets(ctx context.Context, filter models.BatchFilter) ([]models.TrainingDataset, error) {
	keys, err := checkFilter(filter, TrainingDatasetFilterColumns)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(keys, filter, nil, nil)
	tds := []models.TrainingDataset{}
	query := "SELECT td_id, hdfs_path, dataset_format, source_table FROM training_datasets" + where + " ORDER BY td_id"
	if err := s.db.SelectContext(ctx, &tds, s.db.Rebind(query), args...); err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "list training datasets")
	}
	return tds, nil
}

// whereClause builds the conditions for keys, already checked against an
// allow-list. Values are bound as their printed form so JSON numbers
// compare against integer columns.
func whereClause(keys []string, filter models.BatchFilter, conds []string, args []interface{}) (string, []interface{}) {
	for _, k := range keys {
		conds = append(conds, fmt.Sprintf("CAST(%s AS TEXT) = ?", k))
		args = append(args, fmt.Sprint(filter[k]))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
