package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/colmap/colmap/internal/domain"
)

// ProjectModel is the bun mapping for the fixed projects table. DedupFields
// is stored as a JSON array, mirroring the original system's dedup_fields
// column.
type ProjectModel struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name"`
	Description   string    `bun:"description"`
	AIConfigID    string    `bun:"ai_config_id"`
	DedupEnabled  bool      `bun:"dedup_enabled"`
	DedupFields   string    `bun:"dedup_fields"`
	DedupStrategy string    `bun:"dedup_strategy"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

func (m *ProjectModel) ToDomain() *domain.Project {
	var dedupFields []string
	if m.DedupFields != "" {
		_ = json.Unmarshal([]byte(m.DedupFields), &dedupFields)
	}
	return domain.ReconstructProject(m.ID, m.Name, m.Description, m.AIConfigID,
		m.DedupEnabled, dedupFields, domain.DedupStrategy(m.DedupStrategy), m.CreatedAt, m.UpdatedAt)
}

func NewProjectModel(p *domain.Project) *ProjectModel {
	dedupFields := "[]"
	if len(p.DedupFields()) > 0 {
		if encoded, err := json.Marshal(p.DedupFields()); err == nil {
			dedupFields = string(encoded)
		}
	}
	return &ProjectModel{
		ID: p.ID(), Name: p.Name(), Description: p.Description(), AIConfigID: p.AIConfigID(),
		DedupEnabled: p.DedupEnabled(), DedupFields: dedupFields, DedupStrategy: string(p.DedupStrategy()),
		CreatedAt: p.CreatedAt(), UpdatedAt: p.UpdatedAt(),
	}
}

func (s *Store) SaveProject(ctx context.Context, p *domain.Project) error {
	model := NewProjectModel(p)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	model := new(ProjectModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	var models []*ProjectModel
	if err := s.db.NewSelect().Model(&models).Order("created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Project, len(models))
	for i, m := range models {
		out[i] = m.ToDomain()
	}
	return out, nil
}

// DeleteProject removes a project together with its field definitions and,
// when it exists, its dynamic records table.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	table := domain.ReconstructProject(id, "", "", "", false, nil, "", time.Time{}, time.Time{}).RecordsTable()
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE "+quoteIdent(table)); err != nil {
			return err
		}
		s.invalidateColumnCache(table)
	}
	if _, err := s.db.NewDelete().Model((*FieldModel)(nil)).Where("project_id = ?", id).Exec(ctx); err != nil {
		return err
	}
	_, err = s.db.NewDelete().Model((*ProjectModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// FieldModel is the bun mapping for the project_fields table. Soft-deleted
// rows remain in place (IsDeleted true) so that re-creating a field of the
// same logical name restores its validation rule and dedup-key membership.
type FieldModel struct {
	bun.BaseModel `bun:"table:project_fields,alias:f"`

	ID             string     `bun:"id,pk"`
	ProjectID      string     `bun:"project_id"`
	Name           string     `bun:"name"`
	Label          string     `bun:"label"`
	FieldType      string     `bun:"field_type"`
	Required       bool       `bun:"required"`
	ValidationRule string     `bun:"validation_rule"`
	ExtractionHint string     `bun:"extraction_hint"`
	DisplayOrder   int        `bun:"display_order"`
	IsDeleted      bool       `bun:"is_deleted"`
	DeletedAt      *time.Time `bun:"deleted_at"`
	DedupKey       bool       `bun:"dedup_key"`
	CreatedAt      time.Time  `bun:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at"`
}

func (m *FieldModel) ToDomain() *domain.Field {
	return domain.ReconstructField(m.ID, m.ProjectID, m.Name, m.Label, domain.FieldType(m.FieldType),
		m.Required, m.IsDeleted, m.DedupKey, m.ValidationRule, m.ExtractionHint, m.DisplayOrder,
		m.DeletedAt, m.CreatedAt, m.UpdatedAt)
}

func NewFieldModel(f *domain.Field) *FieldModel {
	return &FieldModel{
		ID: f.ID(), ProjectID: f.ProjectID(), Name: f.Name(), Label: f.Label(),
		FieldType: string(f.Type()), Required: f.Required(), ValidationRule: f.ValidationRule(),
		ExtractionHint: f.ExtractionHint(), DisplayOrder: f.DisplayOrder(),
		IsDeleted: f.IsDeleted(), DeletedAt: f.DeletedAt(), DedupKey: f.DedupKey(),
		CreatedAt: f.CreatedAt(), UpdatedAt: f.UpdatedAt(),
	}
}

func (s *Store) SaveField(ctx context.Context, f *domain.Field) error {
	model := NewFieldModel(f)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

// FindFieldByName looks up a field (including soft-deleted ones) by its
// logical name within a project, used to decide between restoring a
// soft-deleted field and creating a brand new one.
func (s *Store) FindFieldByName(ctx context.Context, projectID, name string) (*domain.Field, error) {
	model := new(FieldModel)
	err := s.db.NewSelect().Model(model).Where("project_id = ? AND name = ?", projectID, name).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// ActiveFields returns the non-deleted fields of a project, ordered by
// display order, the set that determines the dynamic records table's
// current column shape.
func (s *Store) ActiveFields(ctx context.Context, projectID string) ([]*domain.Field, error) {
	var models []*FieldModel
	if err := s.db.NewSelect().Model(&models).
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Order("display_order ASC", "created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Field, len(models))
	for i, m := range models {
		out[i] = m.ToDomain()
	}
	return out, nil
}

// TaskModel is the bun mapping for processing_tasks.
type TaskModel struct {
	bun.BaseModel `bun:"table:processing_tasks,alias:t"`

	ID            string     `bun:"id,pk"`
	ProjectID     string     `bun:"project_id"`
	BatchID       string     `bun:"batch_id"`
	Status        string     `bun:"status"`
	TotalRows     int        `bun:"total_rows"`
	ProcessedRows int        `bun:"processed_rows"`
	SuccessRows   int        `bun:"success_rows"`
	ErrorRows     int        `bun:"error_rows"`
	ErrorMessage  string     `bun:"error_message"`
	CreatedAt     time.Time  `bun:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at"`
	CompletedAt   *time.Time `bun:"completed_at"`
}

func (m *TaskModel) ToDomain() *domain.ProcessingTask {
	return domain.ReconstructProcessingTask(m.ID, m.ProjectID, m.BatchID, domain.TaskStatus(m.Status),
		m.TotalRows, m.ProcessedRows, m.SuccessRows, m.ErrorRows, m.ErrorMessage, m.CreatedAt, m.UpdatedAt, m.CompletedAt)
}

func NewTaskModel(t *domain.ProcessingTask) *TaskModel {
	return &TaskModel{
		ID: t.ID(), ProjectID: t.ProjectID(), BatchID: t.BatchID(), Status: string(t.Status()),
		TotalRows: t.TotalRows(), ProcessedRows: t.ProcessedRows(), SuccessRows: t.SuccessRows(),
		ErrorRows: t.ErrorRows(), ErrorMessage: t.ErrorMessage(),
		CreatedAt: t.CreatedAt(), UpdatedAt: t.UpdatedAt(), CompletedAt: t.CompletedAt(),
	}
}

func (s *Store) SaveTask(ctx context.Context, t *domain.ProcessingTask) error {
	model := NewTaskModel(t)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.ProcessingTask, error) {
	model := new(TaskModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// BatchModel is the bun mapping for batches.
type BatchModel struct {
	bun.BaseModel `bun:"table:batches,alias:b"`

	ID          string    `bun:"id,pk"`
	ProjectID   string    `bun:"project_id"`
	Number      string    `bun:"number"`
	RecordCount int       `bun:"record_count"`
	CreatedAt   time.Time `bun:"created_at"`
}

func (m *BatchModel) ToDomain() *domain.Batch {
	return domain.ReconstructBatch(m.ID, m.ProjectID, m.Number, m.RecordCount, m.CreatedAt)
}

func NewBatchModel(b *domain.Batch) *BatchModel {
	return &BatchModel{ID: b.ID(), ProjectID: b.ProjectID(), Number: b.Number(), RecordCount: b.RecordCount(), CreatedAt: b.CreatedAt()}
}

func (s *Store) SaveBatch(ctx context.Context, b *domain.Batch) error {
	model := NewBatchModel(b)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

// NextBatchNumber allocates batch_YYYYMMDD_NNNN for today, one more than
// the highest existing sequence number already used today for this project.
func (s *Store) NextBatchNumber(ctx context.Context, projectID string, today string) (string, error) {
	var maxSeq int
	prefix := "batch_" + today + "_"
	err := s.db.NewSelect().Model((*BatchModel)(nil)).
		ColumnExpr("COALESCE(MAX(CAST(SUBSTR(number, LENGTH(?) + 1) AS INTEGER)), 0)", prefix).
		Where("project_id = ? AND number LIKE ?", projectID, prefix+"%").
		Scan(ctx, &maxSeq)
	if err != nil {
		return "", err
	}
	return prefix + padSeq(maxSeq+1), nil
}

func padSeq(n int) string {
	s := ""
	if n < 1000 {
		s = "0"
	}
	if n < 100 {
		s += "0"
	}
	if n < 10 {
		s += "0"
	}
	return s + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// AIConfigModel is the bun mapping for ai_configs: a named LLM credential
// and model selection a project can reference.
type AIConfigModel struct {
	bun.BaseModel `bun:"table:ai_configs,alias:a"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name"`
	Provider  string    `bun:"provider"`
	Model     string    `bun:"model"`
	APIKey    string    `bun:"api_key"`
	CreatedAt time.Time `bun:"created_at"`
}
