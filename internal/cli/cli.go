package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bayuaji732/data-prep-api/internal/config"
	internal_http "github.com/bayuaji732/data-prep-api/internal/http"
	"github.com/bayuaji732/data-prep-api/internal/log"
	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/service"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const pollInterval = 500 * time.Millisecond

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file read before the environment")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the task workers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			app := initApp(cmd, prometheus.DefaultRegisterer)
			defer app.Close()
			if err := serve(app); err != nil {
				exitWith("serve", err)
			}
		},
	}

	prepCmd := &cobra.Command{
		Use:   "prep [table] [file-id] [file-type]",
		Short: "Prepare one staged file into the warehouse and wait for it",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			req := models.DataPrepRequest{TableName: args[0], FileID: args[1], FileType: args[2]}
			runOne(cmd, func(ctx context.Context, app *App) (models.TaskHandle, error) {
				return app.Engine.SubmitDataset(ctx, req)
			})
		},
	}

	prepBatchCmd := &cobra.Command{
		Use:   "prep-batch [table]",
		Short: "Prepare every cataloged file of a table",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := cmd.Flags().GetStringSlice("filter")
			filters, err := parseFilters(raw)
			if err != nil {
				exitWith("parse filters", err)
			}
			req := models.BatchDataPrepRequest{TableName: args[0], Filters: filters}
			runBatch(cmd, func(ctx context.Context, app *App) (models.BatchResult, error) {
				return app.Batch.SubmitDatasetBatch(ctx, req)
			})
		},
	}
	prepBatchCmd.Flags().StringSlice("filter", nil, "Catalog filter as key=value, repeatable")

	featureGroupCmd := &cobra.Command{
		Use:   "feature-group [table]",
		Short: "Materialize a feature group snapshot",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			online, _ := cmd.Flags().GetBool("online")
			req := models.FeatureGroupRequest{TableName: args[0], Online: online}
			runOne(cmd, func(ctx context.Context, app *App) (models.TaskHandle, error) {
				return app.Engine.SubmitFeatureGroup(ctx, req)
			})
		},
	}
	featureGroupCmd.Flags().Bool("online", false, "Write to the key-value store instead of the warehouse")

	trainingDatasetCmd := &cobra.Command{
		Use:   "training-dataset [td-id]",
		Short: "Export a training dataset to the distributed file system",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path, _ := cmd.Flags().GetString("path")
			format, _ := cmd.Flags().GetString("format")
			req := models.TrainingDatasetRequest{TDID: args[0], HDFSPath: path, DatasetFormat: format}
			runOne(cmd, func(ctx context.Context, app *App) (models.TaskHandle, error) {
				return app.Engine.SubmitTrainingDataset(ctx, req)
			})
		},
	}
	trainingDatasetCmd.Flags().String("path", "", "Destination path, defaults to the cataloged one")
	trainingDatasetCmd.Flags().String("format", "", "csv, tfrecord or parquet, defaults to the cataloged one")

	trainingDatasetBatchCmd := &cobra.Command{
		Use:   "training-dataset-batch",
		Short: "Export every cataloged training dataset",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			format, _ := cmd.Flags().GetString("format")
			req := models.TrainingDatasetBatchRequest{DatasetFormat: format}
			runBatch(cmd, func(ctx context.Context, app *App) (models.BatchResult, error) {
				return app.Batch.SubmitTrainingDatasetBatch(ctx, req)
			})
		},
	}
	trainingDatasetBatchCmd.Flags().String("format", "", "Only export training datasets in this format")

	statusCmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show the latest task for a task id or target id",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app := initApp(cmd, nil)
			defer app.Close()
			rec, err := app.Ledger.Get(cmd.Context(), args[0])
			if err != nil {
				exitWith("get status", err)
			}
			printRecord(os.Stdout, rec)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			filter, err := listFilter(cmd)
			if err != nil {
				exitWith("parse flags", err)
			}
			app := initApp(cmd, nil)
			defer app.Close()
			page, err := app.Ledger.List(cmd.Context(), filter)
			if err != nil {
				exitWith("list tasks", err)
			}
			printPage(os.Stdout, page)
		},
	}
	listCmd.Flags().String("kind", "", "dataset-prep, feature-materialize or training-export")
	listCmd.Flags().String("status", "", "Status name or code")
	listCmd.Flags().Int("limit", models.DefaultListLimit, "Maximum tasks to print")
	listCmd.Flags().Int("offset", 0, "Tasks to skip")

	rootCmd.AddCommand(serveCmd, prepCmd, prepBatchCmd, featureGroupCmd,
		trainingDatasetCmd, trainingDatasetBatchCmd, statusCmd, listCmd)
}

func initApp(cmd *cobra.Command, reg prometheus.Registerer) *App {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		exitWith("load config", err)
	}
	if _, err := log.Configure(cfg.LogLevel, cfg.LogFilePath); err != nil {
		exitWith("configure logging", err)
	}
	log.GetLogger().Debugf("Connecting to ledger at %s:%d/%s", cfg.PSQLHost, cfg.PSQLPort, cfg.PSQLDatabase)
	app, err := NewApp(cfg, log.GetLogger(), reg)
	if err != nil {
		exitWith("initialize", err)
	}
	return app
}

func serve(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := app.Engine.Recover(ctx); err != nil {
		return errors.Wrap(err, "recover interrupted tasks")
	}
	app.Engine.Start()
	defer app.Engine.Stop()

	srv := internal_http.NewServer(app.Engine, app.Batch, app.Ledger, app.Logger, app.Config.Version, promhttp.Handler())
	addr := ":" + app.Config.HTTPPort
	app.Logger.Infof("Starting %s %s on %s", app.Config.AppName, app.Config.Version, addr)
	return srv.ListenAndServe(ctx, addr)
}

// runOne submits a single task on an in-process engine and waits for it to
// finish. The process exits non-zero when the task fails.
func runOne(cmd *cobra.Command, submit func(ctx context.Context, app *App) (models.TaskHandle, error)) {
	app := initApp(cmd, nil)
	defer app.Close()
	app.Engine.Start()
	defer app.Engine.Stop()

	ctx := cmd.Context()
	h, err := submit(ctx, app)
	if err != nil {
		exitWith("submit", err)
	}
	if h.Coalesced {
		fmt.Fprintf(os.Stdout, "Joined in-flight task %s for %s\n", h.TaskID, h.TargetID)
	} else {
		fmt.Fprintf(os.Stdout, "Submitted task %s for %s\n", h.TaskID, h.TargetID)
	}
	recs, err := waitTasks(ctx, app.Ledger, []string{h.TaskID}, pollInterval)
	if err != nil {
		exitWith("wait", err)
	}
	printRecord(os.Stdout, recs[0])
	if recs[0].Status == models.FailedTaskStatus {
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, submit func(ctx context.Context, app *App) (models.BatchResult, error)) {
	app := initApp(cmd, nil)
	defer app.Close()
	app.Engine.Start()
	defer app.Engine.Stop()

	ctx := cmd.Context()
	res, err := submit(ctx, app)
	if err != nil {
		exitWith("submit batch", err)
	}
	fmt.Fprintf(os.Stdout, "Submitted %d of %d\n", res.Succeeded, res.Total)
	for _, f := range res.Failed {
		fmt.Fprintf(os.Stdout, "- %s rejected: %s\n", f.ID, f.Reason)
	}
	recs, err := waitTasks(ctx, app.Ledger, res.TaskIDs, pollInterval)
	if err != nil {
		exitWith("wait", err)
	}
	failed := len(res.Failed)
	for _, rec := range recs {
		printRecord(os.Stdout, rec)
		if rec.Status == models.FailedTaskStatus {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// waitTasks polls the ledger until none of the tasks is pending or running.
func waitTasks(ctx context.Context, ledger *service.Ledger, taskIDs []string, interval time.Duration) ([]models.StatusRecord, error) {
	recs := make([]models.StatusRecord, len(taskIDs))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done := true
		for i, id := range taskIDs {
			if recs[i].TaskID != "" && !recs[i].Status.Active() {
				continue
			}
			rec, err := ledger.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			recs[i] = rec
			if rec.Status.Active() {
				done = false
			}
		}
		if done {
			return recs, nil
		}
		select {
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "waiting for tasks")
		case <-ticker.C:
		}
	}
}

// parseFilters turns key=value pairs into a catalog filter. Integer values
// compare as numbers.
func parseFilters(pairs []string) (models.BatchFilter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(models.BatchFilter, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("filter %q is not key=value", p)
		}
		if n, err := strconv.Atoi(value); err == nil {
			filter[key] = n
			continue
		}
		filter[key] = value
	}
	return filter, nil
}

func listFilter(cmd *cobra.Command) (models.TaskFilter, error) {
	var filter models.TaskFilter
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		k, err := models.ParseTaskKind(kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = k
	}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		s, err := models.ParseTaskStatus(status)
		if err != nil {
			return filter, err
		}
		filter.Status = &s
	}
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")
	if filter.Limit < 0 || filter.Offset < 0 {
		return filter, errors.New("limit and offset must not be negative")
	}
	return filter, nil
}

func printRecord(w io.Writer, rec models.StatusRecord) {
	fmt.Fprintf(w, "- Task: %s, Kind: %s, Target: %s, Status: %s (%d), Updated: %s\n  %s\n",
		rec.TaskID, rec.Kind, rec.TargetID, rec.Status, int(rec.Status),
		rec.UpdatedAt.Format(time.RFC3339), rec.Message)
}

func printPage(w io.Writer, page models.TaskPage) {
	if len(page.Items) == 0 {
		fmt.Fprintf(w, "No tasks found.\n")
		return
	}
	fmt.Fprintf(w, "Tasks %d-%d of %d:\n", page.Offset+1, page.Offset+len(page.Items), page.Total)
	for _, rec := range page.Items {
		printRecord(w, rec)
	}
}

func exitWith(op string, err error) {
	log.GetLogger().Errorf("Failed to %s: %v", op, err)
	fmt.Fprintf(os.Stderr, "Error: failed to %s: %s\n", op, errkind.Message(err))
	os.Exit(1)
}
