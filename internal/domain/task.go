package domain

import "time"

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskPaused     TaskStatus = "paused"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskError      TaskStatus = "error"
)

// ProcessingTask tracks one invocation of the extraction coordinator over a
// set of uploaded spreadsheet files.
type ProcessingTask struct {
	id            string
	projectID     string
	batchID       string
	status        TaskStatus
	totalRows     int
	processedRows int
	successRows   int
	errorRows     int
	errorMessage  string
	createdAt     time.Time
	updatedAt     time.Time
	completedAt   *time.Time
}

func NewProcessingTask(id, projectID, batchID string, now time.Time) *ProcessingTask {
	return &ProcessingTask{
		id:        id,
		projectID: projectID,
		batchID:   batchID,
		status:    TaskPending,
		createdAt: now,
		updatedAt: now,
	}
}

func ReconstructProcessingTask(id, projectID, batchID string, status TaskStatus, totalRows, processedRows, successRows, errorRows int, errorMessage string, createdAt, updatedAt time.Time, completedAt *time.Time) *ProcessingTask {
	return &ProcessingTask{
		id: id, projectID: projectID, batchID: batchID, status: status,
		totalRows: totalRows, processedRows: processedRows, successRows: successRows, errorRows: errorRows,
		errorMessage: errorMessage, createdAt: createdAt, updatedAt: updatedAt, completedAt: completedAt,
	}
}

func (t *ProcessingTask) ID() string             { return t.id }
func (t *ProcessingTask) ProjectID() string      { return t.projectID }
func (t *ProcessingTask) BatchID() string        { return t.batchID }
func (t *ProcessingTask) Status() TaskStatus      { return t.status }
func (t *ProcessingTask) TotalRows() int         { return t.totalRows }
func (t *ProcessingTask) ProcessedRows() int     { return t.processedRows }
func (t *ProcessingTask) SuccessRows() int       { return t.successRows }
func (t *ProcessingTask) ErrorRows() int         { return t.errorRows }
func (t *ProcessingTask) ErrorMessage() string   { return t.errorMessage }
func (t *ProcessingTask) CreatedAt() time.Time   { return t.createdAt }
func (t *ProcessingTask) UpdatedAt() time.Time   { return t.updatedAt }
func (t *ProcessingTask) CompletedAt() *time.Time { return t.completedAt }

func (t *ProcessingTask) SetStatus(s TaskStatus, at time.Time) {
	t.status = s
	t.updatedAt = at
	if s == TaskCompleted || s == TaskCancelled || s == TaskError {
		t.completedAt = &at
	}
}

func (t *ProcessingTask) SetError(msg string, at time.Time) {
	t.errorMessage = msg
	t.status = TaskError
	t.updatedAt = at
	t.completedAt = &at
}

func (t *ProcessingTask) RecordProgress(processed, success, errorCount, total int, at time.Time) {
	t.processedRows = processed
	t.successRows = success
	t.errorRows = errorCount
	t.totalRows = total
	t.updatedAt = at
}

// Batch groups the records produced by one run of the coordinator over one
// or more sheets, identified by the human-legible batch_YYYYMMDD_NNNN form.
type Batch struct {
	id          string
	projectID   string
	number      string
	recordCount int
	createdAt   time.Time
}

func NewBatch(id, projectID, number string, now time.Time) *Batch {
	return &Batch{id: id, projectID: projectID, number: number, createdAt: now}
}

func ReconstructBatch(id, projectID, number string, recordCount int, createdAt time.Time) *Batch {
	return &Batch{id: id, projectID: projectID, number: number, recordCount: recordCount, createdAt: createdAt}
}

func (b *Batch) ID() string           { return b.id }
func (b *Batch) ProjectID() string    { return b.projectID }
func (b *Batch) Number() string       { return b.number }
func (b *Batch) RecordCount() int     { return b.recordCount }
func (b *Batch) CreatedAt() time.Time { return b.createdAt }

func (b *Batch) SetRecordCount(n int) { b.recordCount = n }
