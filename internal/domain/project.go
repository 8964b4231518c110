package domain

import "time"

// Project is a tenant-scoped extraction workspace. Its active field set
// determines the shape of its dynamic records table.
type Project struct {
	id            string
	name          string
	description   string
	aiConfigID    string
	dedupEnabled  bool
	dedupFields   []string
	dedupStrategy DedupStrategy
	createdAt     time.Time
	updatedAt     time.Time
}

func NewProject(id, name, description, aiConfigID string, dedupEnabled bool, dedupFields []string, dedupStrategy DedupStrategy, now time.Time) *Project {
	return &Project{
		id:            id,
		name:          name,
		description:   description,
		aiConfigID:    aiConfigID,
		dedupEnabled:  dedupEnabled,
		dedupFields:   dedupFields,
		dedupStrategy: dedupStrategy,
		createdAt:     now,
		updatedAt:     now,
	}
}

func ReconstructProject(id, name, description, aiConfigID string, dedupEnabled bool, dedupFields []string, dedupStrategy DedupStrategy, createdAt, updatedAt time.Time) *Project {
	return &Project{
		id: id, name: name, description: description, aiConfigID: aiConfigID,
		dedupEnabled: dedupEnabled, dedupFields: dedupFields, dedupStrategy: dedupStrategy,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

func (p *Project) ID() string          { return p.id }
func (p *Project) Name() string        { return p.name }
func (p *Project) Description() string { return p.description }
func (p *Project) AIConfigID() string  { return p.aiConfigID }

// DedupEnabled reports whether incoming records should be checked against
// the dedup-key fields at all before insertion.
func (p *Project) DedupEnabled() bool { return p.dedupEnabled }

// DedupFields is the ordered list of field names whose values together form
// the equality key used to find a prior matching record.
func (p *Project) DedupFields() []string { return p.dedupFields }

// DedupStrategy is the conflict-resolution rule applied when an incoming
// record matches an existing one on the dedup-key fields.
func (p *Project) DedupStrategy() DedupStrategy { return p.dedupStrategy }

func (p *Project) CreatedAt() time.Time { return p.createdAt }
func (p *Project) UpdatedAt() time.Time { return p.updatedAt }

// SetDedupPolicy replaces the project's deduplication policy in place.
func (p *Project) SetDedupPolicy(enabled bool, fields []string, strategy DedupStrategy, at time.Time) {
	p.dedupEnabled = enabled
	p.dedupFields = fields
	p.dedupStrategy = strategy
	p.updatedAt = at
}

// RecordsTable returns the name of this project's dynamic records table.
func (p *Project) RecordsTable() string {
	return "project_" + p.id + "_records"
}

// FieldType enumerates the recognized field types; it drives both the
// physical column type and the local validation/normalization rule applied.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypePhone  FieldType = "phone"
	FieldTypeEmail  FieldType = "email"
	FieldTypeURL    FieldType = "url"
	FieldTypeDate   FieldType = "date"
	FieldTypeNumber FieldType = "number"
)

// DedupStrategy controls how an incoming row that matches an existing
// record on the dedup key set is reconciled.
type DedupStrategy string

const (
	DedupSkip   DedupStrategy = "skip"
	DedupUpdate DedupStrategy = "update"
	DedupMerge  DedupStrategy = "merge"
)

// Field is a logical column definition within a project. Deleting a field
// is soft: the row is marked deleted rather than removed, so that
// re-adding a field of the same name restores its history and validation
// rule instead of starting over.
type Field struct {
	id             string
	projectID      string
	name           string
	label          string
	fieldType      FieldType
	required       bool
	validationRule string
	extractionHint string
	displayOrder   int
	isDeleted      bool
	deletedAt      *time.Time
	dedupKey       bool
	createdAt      time.Time
	updatedAt      time.Time
}

func NewField(id, projectID, name, label string, fieldType FieldType, required, dedupKey bool, validationRule, extractionHint string, displayOrder int, now time.Time) *Field {
	return &Field{
		id:             id,
		projectID:      projectID,
		name:           name,
		label:          label,
		fieldType:      fieldType,
		required:       required,
		validationRule: validationRule,
		extractionHint: extractionHint,
		displayOrder:   displayOrder,
		dedupKey:       dedupKey,
		createdAt:      now,
		updatedAt:      now,
	}
}

func ReconstructField(id, projectID, name, label string, fieldType FieldType, required, isDeleted, dedupKey bool, validationRule, extractionHint string, displayOrder int, deletedAt *time.Time, createdAt, updatedAt time.Time) *Field {
	return &Field{
		id:             id,
		projectID:      projectID,
		name:           name,
		label:          label,
		fieldType:      fieldType,
		required:       required,
		validationRule: validationRule,
		extractionHint: extractionHint,
		displayOrder:   displayOrder,
		isDeleted:      isDeleted,
		deletedAt:      deletedAt,
		dedupKey:       dedupKey,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func (f *Field) ID() string              { return f.id }
func (f *Field) ProjectID() string       { return f.projectID }
func (f *Field) Name() string            { return f.name }
func (f *Field) Label() string           { return f.label }
func (f *Field) Type() FieldType         { return f.fieldType }
func (f *Field) Required() bool          { return f.required }
func (f *Field) ValidationRule() string  { return f.validationRule }
func (f *Field) ExtractionHint() string  { return f.extractionHint }
func (f *Field) DisplayOrder() int       { return f.displayOrder }
func (f *Field) IsDeleted() bool         { return f.isDeleted }
func (f *Field) DeletedAt() *time.Time   { return f.deletedAt }
func (f *Field) DedupKey() bool          { return f.dedupKey }
func (f *Field) CreatedAt() time.Time    { return f.createdAt }
func (f *Field) UpdatedAt() time.Time    { return f.updatedAt }

// Update replaces the mutable attributes of a field definition in place.
func (f *Field) Update(label string, fieldType FieldType, required, dedupKey bool, validationRule, extractionHint string, displayOrder int, at time.Time) {
	f.label = label
	f.fieldType = fieldType
	f.required = required
	f.dedupKey = dedupKey
	f.validationRule = validationRule
	f.extractionHint = extractionHint
	f.displayOrder = displayOrder
	f.updatedAt = at
}

// MarkDeleted soft-deletes the field in place.
func (f *Field) MarkDeleted(at time.Time) {
	f.isDeleted = true
	f.deletedAt = &at
	f.updatedAt = at
}

// Restore clears the soft-delete marker, reviving the field's prior
// validation rule and dedup-key membership rather than recreating it blank.
func (f *Field) Restore(at time.Time) {
	f.isDeleted = false
	f.deletedAt = nil
	f.updatedAt = at
}
