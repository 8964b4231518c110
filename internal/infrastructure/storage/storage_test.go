package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colmap/colmap/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open("file:" + path)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(t.Context()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetProject(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	p := domain.NewProject("p1", "Leads", "desc", "", false, nil, "", time.Now())
	require.NoError(t, store.SaveProject(ctx, p))

	got, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Leads", got.Name())
}

func TestListAndDeleteProject(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.SaveProject(ctx, domain.NewProject("p1", "A", "", "", false, nil, "", time.Now())))
	require.NoError(t, store.SaveProject(ctx, domain.NewProject("p2", "B", "", "", false, nil, "", time.Now())))

	all, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteProject(ctx, "p1"))
	all, err = store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFieldSoftDeleteAndRestorePreservesRule(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	now := time.Now()

	f := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, true, true, `^\d+$`, "", 0, now)
	require.NoError(t, store.SaveField(ctx, f))

	active, err := store.ActiveFields(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	f.MarkDeleted(now.Add(time.Minute))
	require.NoError(t, store.SaveField(ctx, f))

	active, err = store.ActiveFields(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, active)

	found, err := store.FindFieldByName(ctx, "p1", "phone")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.IsDeleted())

	found.Restore(now.Add(2 * time.Minute))
	require.NoError(t, store.SaveField(ctx, found))

	active, err = store.ActiveFields(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, `^\d+$`, active[0].ValidationRule())
	assert.True(t, active[0].DedupKey())
}

func TestFindFieldByName_MissingReturnsNilNil(t *testing.T) {
	store := newTestStore(t)
	found, err := store.FindFieldByName(t.Context(), "p1", "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestNextBatchNumber_Sequences(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	n1, err := store.NextBatchNumber(ctx, "p1", "20260731")
	require.NoError(t, err)
	assert.Equal(t, "batch_20260731_0001", n1)

	require.NoError(t, store.SaveBatch(ctx, domain.NewBatch("b1", "p1", n1, time.Now())))

	n2, err := store.NextBatchNumber(ctx, "p1", "20260731")
	require.NoError(t, err)
	assert.Equal(t, "batch_20260731_0002", n2)

	n3, err := store.NextBatchNumber(ctx, "p2", "20260731")
	require.NoError(t, err)
	assert.Equal(t, "batch_20260731_0001", n3, "sequence is scoped per project")
}

func TestEnsureRecordsTable_CreatesThenAddsColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project := domain.NewProject("p1", "Leads", "", "", false, nil, "", time.Now())

	phone := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, true, false, "", "", 0, time.Now())
	require.NoError(t, store.EnsureRecordsTable(ctx, project, []*domain.Field{phone}))

	exists, err := store.TableExists(ctx, project.RecordsTable())
	require.NoError(t, err)
	assert.True(t, exists)

	email := domain.NewField("f2", "p1", "email", "Email", domain.FieldTypeEmail, false, false, "", "", 0, time.Now())
	require.NoError(t, store.EnsureRecordsTable(ctx, project, []*domain.Field{phone, email}))

	cols, err := store.columnSet(ctx, project.RecordsTable())
	require.NoError(t, err)
	assert.True(t, cols["f_phone"])
	assert.True(t, cols["f_email"])
}

func setupRecordsProject(t *testing.T, store *Store) (*domain.Project, []*domain.Field) {
	t.Helper()
	ctx := t.Context()
	project := domain.NewProject("p1", "Leads", "", "", false, nil, "", time.Now())
	phone := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, true, true, "", "", 0, time.Now())
	email := domain.NewField("f2", "p1", "email", "Email", domain.FieldTypeEmail, false, false, "", "", 0, time.Now())
	fields := []*domain.Field{phone, email}
	require.NoError(t, store.EnsureRecordsTable(ctx, project, fields))
	return project, fields
}

func TestInsertRecord_DuplicateIDIsRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, _ := setupRecordsProject(t, store)

	rec := Record{ID: "r1", BatchID: "b1", Status: "success", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"}}

	inserted, err := store.InsertRecord(ctx, project, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertRecord(ctx, project, rec)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate id should not error, just report not-inserted")
}

func TestUpdateRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, fields := setupRecordsProject(t, store)

	rec := Record{ID: "r1", BatchID: "b1", Status: "success", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"}}
	_, err := store.InsertRecord(ctx, project, rec)
	require.NoError(t, err)

	require.NoError(t, store.UpdateRecord(ctx, project, "r1", map[string]string{"email": "new@b.com"}, time.Now()))

	values, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)
	assert.Equal(t, "new@b.com", values["email"])
	assert.Equal(t, "13812345678", values["phone"])
}

func TestMergeRecord_NullPreservingOverlay(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, fields := setupRecordsProject(t, store)

	rec := Record{ID: "r1", BatchID: "b1", Status: "success", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"}}
	_, err := store.InsertRecord(ctx, project, rec)
	require.NoError(t, err)

	existing, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)

	incoming := map[string]string{"phone": "", "email": "updated@b.com"}
	require.NoError(t, store.MergeRecord(ctx, project, "r1", incoming, existing, time.Now()))

	values, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)
	assert.Equal(t, "13812345678", values["phone"], "blank incoming value must not overwrite existing")
	assert.Equal(t, "updated@b.com", values["email"])
}

func TestFindByDedupKey(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, _ := setupRecordsProject(t, store)

	rec := Record{ID: "r1", BatchID: "b1", Status: "success", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"}}
	_, err := store.InsertRecord(ctx, project, rec)
	require.NoError(t, err)

	found, err := store.FindByDedupKey(ctx, project, map[string]string{"phone": "13812345678"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "r1", found.ID)

	notFound, err := store.FindByDedupKey(ctx, project, map[string]string{"phone": "00000000000"})
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestRecordCount(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, _ := setupRecordsProject(t, store)

	count, err := store.RecordCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = store.InsertRecord(ctx, project, Record{ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Values: map[string]string{}})
	require.NoError(t, err)

	count, err = store.RecordCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCompactRecordsTable_DropsUnkeptColumn(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, fields := setupRecordsProject(t, store)

	_, err := store.InsertRecord(ctx, project, Record{
		ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"},
	})
	require.NoError(t, err)

	require.NoError(t, store.CompactRecordsTable(ctx, project, []*domain.Field{fields[0]}))

	cols, err := store.columnSet(ctx, project.RecordsTable())
	require.NoError(t, err)
	assert.True(t, cols["f_phone"])
	assert.False(t, cols["f_email"])

	count, err := store.RecordCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "surviving rows are preserved across compaction")
}

func TestQueryRecords_FiltersByStatusAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, fields := setupRecordsProject(t, store)

	_, err := store.InsertRecord(ctx, project, Record{
		ID: "r1", Status: "success", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "alice@b.com"},
	})
	require.NoError(t, err)
	_, err = store.InsertRecord(ctx, project, Record{
		ID: "r2", Status: "error", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13912345678", "email": "bob@b.com"},
	})
	require.NoError(t, err)

	records, total, err := store.QueryRecords(ctx, project, fields, QueryFilter{Status: "success"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "r1", records[0].ID)

	records, total, err = store.QueryRecords(ctx, project, fields, QueryFilter{Search: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "r2", records[0].ID)
}

func TestSaveAndGetAIConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	cfg := &AIConfigModel{ID: "ai1", Name: "default", Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test", CreatedAt: time.Now()}
	require.NoError(t, store.SaveAIConfig(ctx, cfg))

	got, err := store.GetAIConfig(ctx, "ai1")
	require.NoError(t, err)
	assert.Equal(t, "default", got.Name)
}

func TestQueryRecords_ExprFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	project, fields := setupRecordsProject(t, store)

	_, err := store.InsertRecord(ctx, project, Record{
		ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "alice@b.com"},
	})
	require.NoError(t, err)
	_, err = store.InsertRecord(ctx, project, Record{
		ID: "r2", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13912345678", "email": "bob@b.com"},
	})
	require.NoError(t, err)

	records, _, err := store.QueryRecords(ctx, project, fields, QueryFilter{Expr: `record.email == "bob@b.com"`})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ID)
}
