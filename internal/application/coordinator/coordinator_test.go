package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colmap/colmap/internal/domain"
	"github.com/colmap/colmap/internal/infrastructure/storage"
)

func TestControl_PauseResumeCancel(t *testing.T) {
	c := &Control{}
	assert.False(t, c.IsPaused())
	assert.False(t, c.IsCancelled())

	c.Pause()
	assert.True(t, c.IsPaused())
	c.Resume()
	assert.False(t, c.IsPaused())

	c.Cancel()
	assert.True(t, c.IsCancelled())
}

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("task-1"))

	ctrl := r.register("task-1")
	assert.Same(t, ctrl, r.Get("task-1"))

	r.unregister("task-1")
	assert.Nil(t, r.Get("task-1"))
}

func TestFormatRowForStorage(t *testing.T) {
	fields := []*domain.Field{
		domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, false, false, "", "", 0, time.Now()),
		domain.NewField("f2", "p1", "email", "Email", domain.FieldTypeEmail, false, false, "", "", 0, time.Now()),
	}
	out := formatRowForStorage(fields, map[string]string{"phone": "13812345678", "email": ""})
	assert.Equal(t, "phone:13812345678", out)

	out = formatRowForStorage(fields, map[string]string{"phone": "", "email": ""})
	assert.Equal(t, "(empty row)", out)
}

func newCoordinatorTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open("file:" + path)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(t.Context()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestApplyDedupStrategy_Skip(t *testing.T) {
	store := newCoordinatorTestStore(t)
	ctx := t.Context()
	project := domain.NewProject("p1", "Leads", "", "", false, nil, "", time.Now())
	phone := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, false, true, "", "", 0, time.Now())
	fields := []*domain.Field{phone}
	require.NoError(t, store.EnsureRecordsTable(ctx, project, fields))

	_, err := store.InsertRecord(ctx, project, storage.Record{
		ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Values: map[string]string{"phone": "13812345678"},
	})
	require.NoError(t, err)

	c := &Coordinator{store: store, now: time.Now}
	require.NoError(t, c.ApplyDedupStrategy(ctx, project, fields, domain.DedupSkip, "r1", map[string]string{"phone": "99900000000"}, time.Now()))

	values, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)
	assert.Equal(t, "13812345678", values["phone"], "skip must not change the existing row")
}

func TestApplyDedupStrategy_Update(t *testing.T) {
	store := newCoordinatorTestStore(t)
	ctx := t.Context()
	project := domain.NewProject("p1", "Leads", "", "", false, nil, "", time.Now())
	phone := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, false, true, "", "", 0, time.Now())
	fields := []*domain.Field{phone}
	require.NoError(t, store.EnsureRecordsTable(ctx, project, fields))

	_, err := store.InsertRecord(ctx, project, storage.Record{
		ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Values: map[string]string{"phone": "13812345678"},
	})
	require.NoError(t, err)

	c := &Coordinator{store: store, now: time.Now}
	require.NoError(t, c.ApplyDedupStrategy(ctx, project, fields, domain.DedupUpdate, "r1", map[string]string{"phone": "99900000000"}, time.Now()))

	values, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)
	assert.Equal(t, "99900000000", values["phone"])
}

func TestApplyDedupStrategy_MergePreservesNonBlank(t *testing.T) {
	store := newCoordinatorTestStore(t)
	ctx := t.Context()
	project := domain.NewProject("p1", "Leads", "", "", false, nil, "", time.Now())
	phone := domain.NewField("f1", "p1", "phone", "Phone", domain.FieldTypePhone, false, true, "", "", 0, time.Now())
	email := domain.NewField("f2", "p1", "email", "Email", domain.FieldTypeEmail, false, false, "", "", 0, time.Now())
	fields := []*domain.Field{phone, email}
	require.NoError(t, store.EnsureRecordsTable(ctx, project, fields))

	_, err := store.InsertRecord(ctx, project, storage.Record{
		ID: "r1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Values: map[string]string{"phone": "13812345678", "email": "a@b.com"},
	})
	require.NoError(t, err)

	c := &Coordinator{store: store, now: time.Now}
	incoming := map[string]string{"phone": "", "email": "new@b.com"}
	require.NoError(t, c.ApplyDedupStrategy(ctx, project, fields, domain.DedupMerge, "r1", incoming, time.Now()))

	values, err := store.GetRecordValues(ctx, project, "r1", fields)
	require.NoError(t, err)
	assert.Equal(t, "13812345678", values["phone"], "merge must preserve existing value when incoming is blank")
	assert.Equal(t, "new@b.com", values["email"])
}
