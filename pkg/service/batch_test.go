package service_test

import (
	"context"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/service"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) batch() *service.BatchCoordinator {
	return service.NewBatchCoordinator(f.engine, f.catalog, testLogger{}, 0)
}

func TestBatchCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("ZeroMatches", func(t *testing.T) {
		f := newFixture(t, 1, newGatedWriter(true))
		res, err := f.batch().SubmitDatasetBatch(ctx, models.BatchDataPrepRequest{TableName: "dataset"})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Total)
		assert.Equal(t, 0, res.Succeeded)
		assert.NotNil(t, res.Failed)
		assert.Empty(t, res.Failed)

		page, err := f.ledger.List(ctx, models.TaskFilter{})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
	})

	t.Run("DatasetsWithFilter", func(t *testing.T) {
		f := newFixture(t, 2, newGatedWriter(true))
		for _, ref := range []models.DatasetRef{
			{FileID: "1", TableName: "dataset", FileType: "csv", Status: 1},
			{FileID: "2", TableName: "dataset", FileType: "tsv", Status: 1},
			{FileID: "3", TableName: "dataset", FileType: "csv", Status: 0},
			{FileID: "4", TableName: "other", FileType: "csv", Status: 1},
		} {
			f.catalog.AddDataset(ref)
		}
		f.stage(t, "1.csv", "a,b\n1,2\n")
		f.stage(t, "2.tsv", "a\tb\n1\t2\n3\t4\n")

		res, err := f.batch().SubmitDatasetBatch(ctx, models.BatchDataPrepRequest{
			TableName: "dataset",
			Filters:   models.BatchFilter{"status": float64(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 2, res.Succeeded)
		assert.Empty(t, res.Failed)
		require.Len(t, res.TaskIDs, 2)

		for _, id := range res.TaskIDs {
			assert.Equal(t, models.SucceededTaskStatus, f.wait(t, id).Status)
		}
		_, err = f.ledger.Get(ctx, "3")
		assert.True(t, errkind.Is(err, errkind.NotFound))
	})

	t.Run("PartialFailure", func(t *testing.T) {
		f := newFixture(t, 2, newGatedWriter(true))
		f.catalog.AddDataset(models.DatasetRef{FileID: "good", TableName: "dataset", FileType: "csv"})
		f.catalog.AddDataset(models.DatasetRef{FileID: "missing", TableName: "dataset", FileType: "csv"})
		f.stage(t, "good.csv", "a\n1\n")

		res, err := f.batch().SubmitDatasetBatch(ctx, models.BatchDataPrepRequest{TableName: "dataset"})
		require.NoError(t, err)
		// both are dispatched; the missing file fails on its own task
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 2, res.Succeeded)

		statuses := map[models.TaskStatus]int{}
		for _, id := range res.TaskIDs {
			statuses[f.wait(t, id).Status]++
		}
		assert.Equal(t, map[models.TaskStatus]int{
			models.SucceededTaskStatus: 1,
			models.FailedTaskStatus:    1,
		}, statuses)
	})

	t.Run("UnknownFilterKey", func(t *testing.T) {
		f := newFixture(t, 1, newGatedWriter(true))
		_, err := f.batch().SubmitDatasetBatch(ctx, models.BatchDataPrepRequest{
			TableName: "dataset",
			Filters:   models.BatchFilter{"owner; DROP TABLE x": "me"},
		})
		assert.True(t, errkind.Is(err, errkind.FormatMismatch))
	})

	t.Run("RejectedItemsAreReported", func(t *testing.T) {
		f := newFixture(t, 1, newGatedWriter(true))
		f.catalog.AddDataset(models.DatasetRef{FileID: "", TableName: "dataset", FileType: "csv"})
		f.catalog.AddDataset(models.DatasetRef{FileID: "7", TableName: "dataset", FileType: "csv"})
		f.stage(t, "7.csv", "a\n1\n")

		res, err := f.batch().SubmitDatasetBatch(ctx, models.BatchDataPrepRequest{TableName: "dataset"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 1, res.Succeeded)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, "", res.Failed[0].ID)
		assert.Contains(t, res.Failed[0].Reason, string(errkind.FormatMismatch))
	})

	t.Run("TrainingDatasets", func(t *testing.T) {
		f := newFixture(t, 2, newGatedWriter(true))
		f.seed(t, "churn")
		f.catalog.AddTrainingDataset(models.TrainingDataset{TDID: "td-a", HDFSPath: "/td/a.csv", DatasetFormat: "csv", SourceTable: "churn"})
		f.catalog.AddTrainingDataset(models.TrainingDataset{TDID: "td-b", HDFSPath: "/td/b.tfrecord", DatasetFormat: "tfrecord", SourceTable: "churn"})
		f.catalog.AddTrainingDataset(models.TrainingDataset{TDID: "td-c", HDFSPath: "/td/c.csv", DatasetFormat: "csv", SourceTable: "churn"})

		res, err := f.batch().SubmitTrainingDatasetBatch(ctx, models.TrainingDatasetBatchRequest{DatasetFormat: "csv"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		require.Len(t, res.TaskIDs, 2)
		for _, id := range res.TaskIDs {
			assert.Equal(t, models.SucceededTaskStatus, f.wait(t, id).Status)
		}
		for _, p := range []string{"/td/a.csv", "/td/c.csv"} {
			exists, err := afero.Exists(f.exports, p)
			require.NoError(t, err)
			assert.True(t, exists, p)
		}

		res, err = f.batch().SubmitTrainingDatasetBatch(ctx, models.TrainingDatasetBatchRequest{})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
	})
}
