// Package coordinator drives one extraction task run: batch allocation,
// archiving the source files, and the per-sheet two-phase algorithm (one
// language-model call to resolve the column mapping, then a purely local
// row loop that validates, normalizes, dedups, and persists).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/colmap/colmap/internal/application/llm"
	"github.com/colmap/colmap/internal/application/validator"
	"github.com/colmap/colmap/internal/domain"
	"github.com/colmap/colmap/internal/domain/errs"
	"github.com/colmap/colmap/internal/infrastructure/broadcast"
	"github.com/colmap/colmap/internal/infrastructure/spreadsheet"
	"github.com/colmap/colmap/internal/infrastructure/storage"
)

// errCancelled stops a row iteration in progress without surfacing as a
// task failure.
var errCancelled = errors.New("task cancelled")

// Clock lets tests substitute a deterministic time source.
type Clock func() time.Time

// Coordinator owns the dependencies every task run needs: storage, the
// mapping client, the progress hub, and the archive root files are copied
// into before processing.
type Coordinator struct {
	store       *storage.Store
	llmClient   *llm.Client
	hub         *broadcast.Hub
	registry    *Registry
	archiveRoot string
	tracer      trace.Tracer
	now         Clock
}

func New(store *storage.Store, llmClient *llm.Client, hub *broadcast.Hub, archiveRoot string) *Coordinator {
	return &Coordinator{
		store:       store,
		llmClient:   llmClient,
		hub:         hub,
		registry:    NewRegistry(),
		archiveRoot: archiveRoot,
		tracer:      otel.Tracer("colmap/coordinator"),
		now:         time.Now,
	}
}

// Registry exposes the task-control registry so an HTTP handler can reach
// a running task's pause/resume/cancel levers.
func (c *Coordinator) Registry() *Registry { return c.registry }

// ProcessFiles runs one task to completion (or cancellation), processing
// every sheet of every file in order.
func (c *Coordinator) ProcessFiles(ctx context.Context, project *domain.Project, taskID string, filePaths []string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.process_files")
	defer span.End()

	control := c.registry.register(taskID)
	defer c.registry.unregister(taskID)

	now := c.now()
	batchNumber, err := c.store.NextBatchNumber(ctx, project.ID(), now.Format("20060102"))
	if err != nil {
		return errs.NewCoordinatorError(taskID, "allocate batch number", err)
	}
	batch := domain.NewBatch(uuid.NewString(), project.ID(), batchNumber, now)
	if err := c.store.SaveBatch(ctx, batch); err != nil {
		return errs.NewCoordinatorError(taskID, "save batch", err)
	}

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return errs.NewCoordinatorError(taskID, "load task", err)
	}
	task.SetStatus(domain.TaskProcessing, c.now())
	_ = c.store.SaveTask(ctx, task)

	archiveDir := filepath.Join(c.archiveRoot, batchNumber)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return errs.NewCoordinatorError(taskID, "create archive directory", err)
	}

	archivedPaths := c.archiveFiles(taskID, archiveDir, filePaths)

	fields, err := c.store.ActiveFields(ctx, project.ID())
	if err != nil {
		return c.failSetup(ctx, task, taskID, "load active fields", err)
	}
	if err := c.store.EnsureRecordsTable(ctx, project, fields); err != nil {
		return c.failSetup(ctx, task, taskID, "ensure records table", err)
	}

	var processed, success, failed int
	start := c.now()

	for _, path := range archivedPaths {
		if control.IsCancelled() {
			break
		}
		if err := c.processFile(ctx, project, task, control, batch, fields, path, &processed, &success, &failed, start); err != nil {
			if errors.Is(err, errCancelled) {
				break
			}
			c.hub.Publish(broadcast.Event{TaskID: taskID, Type: "error", Message: err.Error()})
			log.Error().Str("task_id", taskID).Str("file", path).Err(err).Msg("file processing failed")
		}
	}

	final := domain.TaskCompleted
	if control.IsCancelled() {
		final = domain.TaskCancelled
	}
	task.RecordProgress(processed, success, failed, processed, c.now())
	task.SetStatus(final, c.now())
	_ = c.store.SaveTask(ctx, task)

	batch.SetRecordCount(success)
	_ = c.store.SaveBatch(ctx, batch)

	c.hub.Publish(broadcast.Event{
		TaskID: taskID, Type: "task_" + string(final),
		Processed: processed, Success: success, Errors: failed, Total: processed,
	})

	return nil
}

// failSetup terminates a task that could not even begin row processing
// because storage setup failed: it marks the task errored, persists it,
// and publishes a top-level error event before returning the wrapped error
// to the caller.
func (c *Coordinator) failSetup(ctx context.Context, task *domain.ProcessingTask, taskID, step string, cause error) error {
	wrapped := errs.NewCoordinatorError(taskID, step, cause)
	task.SetError(wrapped.Error(), c.now())
	_ = c.store.SaveTask(ctx, task)
	c.hub.Publish(broadcast.Event{TaskID: taskID, Type: "error", Message: wrapped.Error()})
	return wrapped
}

// archiveFiles copies every source file into the batch directory,
// tolerating individual copy failures: a failed file is skipped with a
// warning event rather than aborting the whole task.
func (c *Coordinator) archiveFiles(taskID, archiveDir string, filePaths []string) []string {
	var archived []string
	for _, path := range filePaths {
		dest := filepath.Join(archiveDir, filepath.Base(path))
		if err := copyFile(path, dest); err != nil {
			c.hub.Publish(broadcast.Event{TaskID: taskID, Type: "warning", Message: fmt.Sprintf("could not archive %s: %v", path, err)})
			continue
		}
		archived = append(archived, dest)
	}
	return archived
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (c *Coordinator) processFile(ctx context.Context, project *domain.Project, task *domain.ProcessingTask, control *Control, batch *domain.Batch, fields []*domain.Field, path string, processed, success, failed *int, start time.Time) error {
	name := filepath.Base(path)
	wb, err := spreadsheet.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer wb.Close()

	c.hub.Publish(broadcast.Event{TaskID: task.ID(), FileName: name, Type: "file_start"})

	for _, sheet := range wb.SheetNames() {
		if control.IsCancelled() {
			return errCancelled
		}
		if err := c.processSheet(ctx, project, task, control, batch, fields, wb, sheet, processed, success, failed, start); err != nil {
			if errors.Is(err, errCancelled) {
				return err
			}
			c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "error", Message: err.Error()})
		}
	}

	c.hub.Publish(broadcast.Event{
		TaskID: task.ID(), FileName: name, Type: "file_complete",
		Processed: *processed, Success: *success, Errors: *failed,
	})
	return nil
}

func (c *Coordinator) processSheet(ctx context.Context, project *domain.Project, task *domain.ProcessingTask, control *Control, batch *domain.Batch, fields []*domain.Field, wb *spreadsheet.Workbook, sheet string, processed, success, failed *int, start time.Time) error {
	c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "sheet_start"})

	sample, err := wb.ReadRows(sheet, 1, 10)
	if err != nil {
		return fmt.Errorf("sample sheet %q: %w", sheet, err)
	}
	if len(sample) == 0 {
		c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "sheet_complete"})
		return nil
	}

	specs := make([]llm.FieldSpec, len(fields))
	for i, f := range fields {
		specs[i] = llm.FieldSpec{Name: f.Name(), Label: f.Label(), Type: f.Type(), Required: f.Required(), Hint: f.ExtractionHint()}
	}

	mapping, err := c.llmClient.AnalyzeColumnMapping(ctx, project.ID(), sheet, sample, specs)
	if err != nil {
		return fmt.Errorf("resolve column mapping: %w", err)
	}

	c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "column_mapping", Message: fmt.Sprintf("confidence=%.2f", mapping.Confidence)})

	if len(mapping.ColumnToField) == 0 {
		c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "sheet_complete"})
		return nil
	}

	if ok, unmapped := validator.CheckRequiredFieldsMapped(mapping, fields); !ok {
		c.hub.Publish(broadcast.Event{TaskID: task.ID(), SheetName: sheet, Type: "warning", Message: "unmapped required fields: " + strings.Join(unmapped, ", ")})
	}

	sheetProcessed, sheetSuccess, sheetFailed := 0, 0, 0

	err = wb.IterateRows(sheet, mapping.StartRow(), true, func(rowNum int, row []string) error {
		if control.IsCancelled() {
			return errCancelled
		}
		for control.IsPaused() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			if control.IsCancelled() {
				return errCancelled
			}
		}

		rawValues := make(map[string]string, len(fields))
		for col, cell := range row {
			if fieldName, ok := mapping.FieldByColumn(col); ok {
				rawValues[fieldName] = cell
			}
		}

		normalized := validator.NormalizeRecord(rawValues, fields)
		validationErrs := validator.ValidateRecord(normalized, fields)

		now := c.now()
		rec := storage.Record{
			ID: uuid.NewString(), BatchID: batch.ID(), CreatedAt: now, UpdatedAt: now,
			Values: normalized, RawData: formatRowForStorage(fields, normalized),
		}

		*processed++
		sheetProcessed++

		if len(validationErrs) > 0 {
			rec.Status = "error"
			rec.ErrorMessage = strings.Join(validationErrs, "; ")
			if _, err := c.store.InsertRecord(ctx, project, rec); err != nil {
				log.Warn().Err(err).Msg("failed to persist error record")
			}
			*failed++
			sheetFailed++
		} else {
			rec.Status = "success"
			if err := c.applyDedup(ctx, project, fields, rec, now); err != nil {
				log.Warn().Err(err).Msg("failed to persist record")
				*failed++
				sheetFailed++
			} else {
				*success++
				sheetSuccess++
			}
		}

		if rowNum%50 == 0 {
			elapsed := time.Since(start).Seconds()
			speed := 0.0
			if elapsed > 0 {
				speed = float64(*processed) / elapsed
			}
			task.RecordProgress(*processed, *success, *failed, *processed, now)
			_ = c.store.SaveTask(ctx, task)
			c.hub.Publish(broadcast.Event{
				TaskID: task.ID(), SheetName: sheet, Type: "row_processed", Row: rowNum,
				Processed: *processed, Success: *success, Errors: *failed, Speed: speed,
			})
		}

		return nil
	})

	c.hub.Publish(broadcast.Event{
		TaskID: task.ID(), SheetName: sheet, Type: "sheet_complete",
		Processed: sheetProcessed, Success: sheetSuccess, Errors: sheetFailed,
	})
	return err
}

// dedupKeyFields resolves the project's ordered dedup-field-name policy
// against the current active field set, skipping any name that no longer
// has a corresponding field.
func dedupKeyFields(project *domain.Project, fields []*domain.Field) []*domain.Field {
	if !project.DedupEnabled() || len(project.DedupFields()) == 0 {
		return nil
	}
	byName := make(map[string]*domain.Field, len(fields))
	for _, f := range fields {
		byName[f.Name()] = f
	}
	var out []*domain.Field
	for _, name := range project.DedupFields() {
		if f, ok := byName[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// applyDedup resolves an incoming row against any existing record sharing
// the project's dedup-key field values, applying the project's configured
// dedup strategy, or falls through to a plain insert when dedup is
// disabled, no dedup fields are configured, or no match exists.
func (c *Coordinator) applyDedup(ctx context.Context, project *domain.Project, fields []*domain.Field, rec storage.Record, now time.Time) error {
	dedupFields := dedupKeyFields(project, fields)
	if len(dedupFields) == 0 {
		_, err := c.store.InsertRecord(ctx, project, rec)
		return err
	}

	keyValues := make(map[string]string, len(dedupFields))
	for _, f := range dedupFields {
		keyValues[f.Name()] = rec.Values[f.Name()]
	}

	existing, err := c.store.FindByDedupKey(ctx, project, keyValues)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := c.store.InsertRecord(ctx, project, rec)
		return err
	}

	return c.ApplyDedupStrategy(ctx, project, fields, project.DedupStrategy(), existing.ID, rec.Values, now)
}

// ApplyDedupStrategy resolves a dedup match under an explicit strategy,
// exposed separately from applyDedup's default so callers (and tests) can
// exercise skip/update/merge directly.
func (c *Coordinator) ApplyDedupStrategy(ctx context.Context, project *domain.Project, fields []*domain.Field, strategy domain.DedupStrategy, existingID string, incoming map[string]string, now time.Time) error {
	switch strategy {
	case domain.DedupSkip:
		return nil
	case domain.DedupMerge:
		existingValues, err := c.store.GetRecordValues(ctx, project, existingID, fields)
		if err != nil {
			return err
		}
		return c.store.MergeRecord(ctx, project, existingID, incoming, existingValues, now)
	default:
		return c.store.UpdateRecord(ctx, project, existingID, incoming, now)
	}
}

func formatRowForStorage(fields []*domain.Field, values map[string]string) string {
	var parts []string
	for _, f := range fields {
		v := values[f.Name()]
		if v == "" {
			continue
		}
		parts = append(parts, f.Name()+":"+v)
	}
	if len(parts) == 0 {
		return "(empty row)"
	}
	return strings.Join(parts, "; ")
}
