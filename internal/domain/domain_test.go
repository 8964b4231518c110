package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProject_RecordsTable(t *testing.T) {
	p := NewProject("abc123", "My Project", "", "", false, nil, "", time.Now())
	assert.Equal(t, "project_abc123_records", p.RecordsTable())
}

func TestField_MarkDeletedAndRestore(t *testing.T) {
	now := time.Now()
	f := NewField("f1", "p1", "phone", "Phone", FieldTypePhone, true, true, "", "", 0, now)
	assert.False(t, f.IsDeleted())

	deletedAt := now.Add(time.Hour)
	f.MarkDeleted(deletedAt)
	assert.True(t, f.IsDeleted())
	assert.Equal(t, deletedAt, *f.DeletedAt())

	restoredAt := now.Add(2 * time.Hour)
	f.Restore(restoredAt)
	assert.False(t, f.IsDeleted())
	assert.Nil(t, f.DeletedAt())
	// Restoring preserves the original dedup membership and required flag.
	assert.True(t, f.DedupKey())
	assert.True(t, f.Required())
}

func TestProcessingTask_SetStatusSetsCompletedAt(t *testing.T) {
	now := time.Now()
	task := NewProcessingTask("t1", "p1", "", now)
	assert.Nil(t, task.CompletedAt())

	completedAt := now.Add(time.Minute)
	task.SetStatus(TaskCompleted, completedAt)
	assert.Equal(t, TaskCompleted, task.Status())
	assert.Equal(t, completedAt, *task.CompletedAt())
}

func TestProcessingTask_SetErrorMarksFailed(t *testing.T) {
	now := time.Now()
	task := NewProcessingTask("t1", "p1", "", now)
	task.SetError("boom", now.Add(time.Second))
	assert.Equal(t, TaskError, task.Status())
	assert.Equal(t, "boom", task.ErrorMessage())
	assert.NotNil(t, task.CompletedAt())
}

func TestProcessingTask_RecordProgress(t *testing.T) {
	task := NewProcessingTask("t1", "p1", "", time.Now())
	task.RecordProgress(10, 8, 2, 20, time.Now())
	assert.Equal(t, 10, task.ProcessedRows())
	assert.Equal(t, 8, task.SuccessRows())
	assert.Equal(t, 2, task.ErrorRows())
	assert.Equal(t, 20, task.TotalRows())
}

func TestColumnMapping_StartRow(t *testing.T) {
	assert.Equal(t, 2, ColumnMapping{HeaderRow: 1}.StartRow())
	assert.Equal(t, 1, ColumnMapping{HeaderRow: 0}.StartRow())
}

func TestColumnMapping_FieldByColumn(t *testing.T) {
	m := ColumnMapping{ColumnToField: map[int]string{0: "phone"}}
	name, ok := m.FieldByColumn(0)
	assert.True(t, ok)
	assert.Equal(t, "phone", name)

	_, ok = m.FieldByColumn(5)
	assert.False(t, ok)
}
