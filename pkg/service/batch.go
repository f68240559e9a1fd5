package service

import (
	"context"

	"github.com/bayuaji732/data-prep-api/pkg/catalog"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 8

// BatchCoordinator expands catalog filters into candidates and submits
// each one to the engine on its own. One failing candidate never stops the
// others.
type BatchCoordinator struct {
	engine      *Engine
	catalog     catalog.Catalog
	logger      Logger
	concurrency int
}

func NewBatchCoordinator(engine *Engine, cat catalog.Catalog, logger Logger, concurrency int) *BatchCoordinator {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	return &BatchCoordinator{engine: engine, catalog: cat, logger: logger, concurrency: concurrency}
}

func (b *BatchCoordinator) SubmitDatasetBatch(ctx context.Context, req models.BatchDataPrepRequest) (models.BatchResult, error) {
	refs, err := b.catalog.Datasets(ctx, req.TableName, req.Filters)
	if err != nil {
		return models.BatchResult{}, err
	}
	b.logger.Infof("Dataset batch for %s matched %d files", req.TableName, len(refs))
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.FileID
	}
	return b.dispatch(ctx, ids, func(ctx context.Context, i int) (models.TaskHandle, error) {
		return b.engine.SubmitDataset(ctx, models.DataPrepRequest{
			TableName: req.TableName,
			FileID:    refs[i].FileID,
			FileType:  refs[i].FileType,
		})
	}), nil
}

func (b *BatchCoordinator) SubmitTrainingDatasetBatch(ctx context.Context, req models.TrainingDatasetBatchRequest) (models.BatchResult, error) {
	filter := models.BatchFilter{}
	if req.DatasetFormat != "" {
		filter["dataset_format"] = req.DatasetFormat
	}
	tds, err := b.catalog.TrainingDatasets(ctx, filter)
	if err != nil {
		return models.BatchResult{}, err
	}
	b.logger.Infof("Training dataset batch matched %d datasets", len(tds))
	ids := make([]string, len(tds))
	for i, td := range tds {
		ids[i] = td.TDID
	}
	return b.dispatch(ctx, ids, func(ctx context.Context, i int) (models.TaskHandle, error) {
		return b.engine.SubmitTrainingDataset(ctx, models.TrainingDatasetRequest{
			TDID:          tds[i].TDID,
			HDFSPath:      tds[i].HDFSPath,
			DatasetFormat: tds[i].DatasetFormat,
		})
	}), nil
}

// dispatch submits every candidate and aggregates the outcomes in
// candidate order.
func (b *BatchCoordinator) dispatch(ctx context.Context, ids []string, submit func(ctx context.Context, i int) (models.TaskHandle, error)) models.BatchResult {
	handles := make([]models.TaskHandle, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i := range ids {
		i := i
		g.Go(func() error {
			handles[i], errs[i] = submit(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	res := models.BatchResult{Total: len(ids), Failed: []models.BatchFailure{}, TaskIDs: []string{}}
	for i, id := range ids {
		if errs[i] != nil {
			b.logger.Errorf("Batch item %s not submitted: %v", id, errs[i])
			res.Failed = append(res.Failed, models.BatchFailure{ID: id, Reason: failureMessage(errs[i])})
			continue
		}
		res.Succeeded++
		res.TaskIDs = append(res.TaskIDs, handles[i].TaskID)
	}
	return res
}
