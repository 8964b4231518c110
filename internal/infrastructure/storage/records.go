package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/colmap/colmap/internal/domain"
	"github.com/colmap/colmap/internal/domain/errs"
)

// fieldColumn maps a logical field name to its physical column name.
func fieldColumn(fieldName string) string {
	return "f_" + fieldName
}

// columnType maps a field's logical type to its physical SQLite column
// type. Normalization always produces a string, so text-like types store
// as TEXT; number stores as a SQLite NUMERIC column so that ordering and
// aggregate queries against it behave numerically.
func columnType(t domain.FieldType) string {
	if t == domain.FieldTypeNumber {
		return "NUMERIC"
	}
	return "TEXT"
}

const recordMetaColumns = `id TEXT PRIMARY KEY, batch_id TEXT, status TEXT, error_message TEXT, raw_data TEXT, created_at TIMESTAMP, updated_at TIMESTAMP`

// TableExists reports whether a project's dynamic records table has been
// created yet.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.NewSelect().
		ColumnExpr("name").
		TableExpr("sqlite_master").
		Where("type = 'table' AND name = ?", table).
		Scan(ctx, &name)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return false, nil
		}
		return false, err
	}
	return name == table, nil
}

// columnSet introspects a table's current columns via PRAGMA table_info.
func (s *Store) columnSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// invalidateColumnCache drops the cached column set for table; the next
// knownColumns call re-introspects it.
func (s *Store) invalidateColumnCache(table string) {
	s.columnCacheMu.Lock()
	delete(s.columnCache, table)
	s.columnCacheMu.Unlock()
}

// knownColumns returns table's cached column set, populating the cache via
// PRAGMA table_info on first use after a schema change.
func (s *Store) knownColumns(ctx context.Context, table string) (map[string]bool, error) {
	s.columnCacheMu.RLock()
	cols, ok := s.columnCache[table]
	s.columnCacheMu.RUnlock()
	if ok {
		return cols, nil
	}

	cols, err := s.columnSet(ctx, table)
	if err != nil {
		return nil, err
	}
	s.columnCacheMu.Lock()
	s.columnCache[table] = cols
	s.columnCacheMu.Unlock()
	return cols, nil
}

// filterKnownValues strips any key from values that knownColumns does not
// recognize as a physical column of table, so an unmapped or stale field
// name is silently dropped instead of producing a "no such column" error.
func (s *Store) filterKnownValues(ctx context.Context, table string, values map[string]string) (map[string]string, error) {
	known, err := s.knownColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for name, value := range values {
		if known[fieldColumn(name)] {
			out[name] = value
		}
	}
	return out, nil
}

// EnsureRecordsTable creates a project's dynamic records table if it does
// not exist, and additively adds a physical column for every field in
// fields that does not yet have one. It never drops a column, so a field
// that is soft-deleted later keeps its column and restoring the field does
// not lose prior data.
func (s *Store) EnsureRecordsTable(ctx context.Context, project *domain.Project, fields []*domain.Field) error {
	table := project.RecordsTable()

	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return errs.NewStorageError(project.ID(), "ensure_table", "check table existence", err, true)
	}

	if !exists {
		var cols strings.Builder
		cols.WriteString(recordMetaColumns)
		for _, f := range fields {
			cols.WriteString(fmt.Sprintf(", %s %s", quoteIdent(fieldColumn(f.Name())), columnType(f.Type())))
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), cols.String())
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errs.NewStorageError(project.ID(), "create_table", "create records table", err, true)
		}
		s.invalidateColumnCache(table)
		return nil
	}

	existingCols, err := s.columnSet(ctx, table)
	if err != nil {
		return errs.NewStorageError(project.ID(), "ensure_table", "introspect columns", err, true)
	}

	added := false
	for _, f := range fields {
		col := fieldColumn(f.Name())
		if existingCols[col] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(col), columnType(f.Type()))
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errs.NewStorageError(project.ID(), "add_column", "add field column "+f.Name(), err, true)
		}
		added = true
	}
	if added {
		s.invalidateColumnCache(table)
	}
	return nil
}

// CompactRecordsTable performs the destructive migration: it rebuilds the
// table to contain exactly the meta columns plus keepFields, preserving
// data only for the intersection of old and new columns. Soft-deleting a
// field does not call it, and no other path in the store or the HTTP
// handlers calls it either.
func (s *Store) CompactRecordsTable(ctx context.Context, project *domain.Project, keepFields []*domain.Field) error {
	table := project.RecordsTable()
	tmpTable := table + "_new"

	existingCols, err := s.columnSet(ctx, table)
	if err != nil {
		return errs.NewStorageError(project.ID(), "compact", "introspect columns", err, true)
	}

	var newCols strings.Builder
	newCols.WriteString(recordMetaColumns)
	var intersection []string
	for _, f := range keepFields {
		col := fieldColumn(f.Name())
		newCols.WriteString(fmt.Sprintf(", %s %s", quoteIdent(col), columnType(f.Type())))
		if existingCols[col] {
			intersection = append(intersection, col)
		}
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(tmpTable), newCols.String())
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}

		metaCols := []string{"id", "batch_id", "status", "error_message", "raw_data", "created_at", "updated_at"}
		copyCols := append(append([]string{}, metaCols...), intersection...)
		colList := quoteIdentList(copyCols)
		insertSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quoteIdent(tmpTable), colList, colList, quoteIdent(table))
		if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", quoteIdent(table))); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(tmpTable), quoteIdent(table))); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateColumnCache(table)
	return nil
}

// Record is one row of a project's dynamic records table.
type Record struct {
	ID           string
	BatchID      string
	Status       string
	ErrorMessage string
	RawData      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Values       map[string]string // field name -> normalized value
}

// InsertRecord inserts a new row. It returns false (with no error) when a
// unique-constraint collision indicates the row was not inserted — the
// caller treats this as the "not inserted" sentinel the original system
// used to decide whether to fall through to dedup handling.
func (s *Store) InsertRecord(ctx context.Context, project *domain.Project, rec Record) (bool, error) {
	table := project.RecordsTable()

	values, err := s.filterKnownValues(ctx, table, rec.Values)
	if err != nil {
		return false, errs.NewStorageError(project.ID(), "insert_record", "filter known columns", err, false)
	}

	cols := []string{"id", "batch_id", "status", "error_message", "raw_data", "created_at", "updated_at"}
	placeholders := []any{rec.ID, rec.BatchID, rec.Status, rec.ErrorMessage, rec.RawData, rec.CreatedAt, rec.UpdatedAt}
	for name, value := range values {
		cols = append(cols, fieldColumn(name))
		placeholders = append(placeholders, value)
	}

	ddl := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), quoteIdentList(cols), placeholderList(len(cols)))
	if _, err := s.db.ExecContext(ctx, ddl, placeholders...); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, errs.NewStorageError(project.ID(), "insert_record", "insert row", err, false)
	}
	return true, nil
}

// UpdateRecord overwrites the field values of an existing row by id.
func (s *Store) UpdateRecord(ctx context.Context, project *domain.Project, id string, values map[string]string, updatedAt time.Time) error {
	table := project.RecordsTable()

	values, err := s.filterKnownValues(ctx, table, values)
	if err != nil {
		return errs.NewStorageError(project.ID(), "update_record", "filter known columns", err, false)
	}

	setClauses := []string{"updated_at = ?"}
	args := []any{updatedAt}
	for name, value := range values {
		setClauses = append(setClauses, quoteIdent(fieldColumn(name))+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	ddl := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quoteIdent(table), strings.Join(setClauses, ", "))
	if _, err := s.db.ExecContext(ctx, ddl, args...); err != nil {
		return errs.NewStorageError(project.ID(), "update_record", "update row", err, false)
	}
	return nil
}

// MergeRecord overlays incoming values onto an existing row using
// null-preserving semantics: an incoming blank value never overwrites an
// existing non-blank one, but a non-blank incoming value always wins. This
// is the documented divergence from a plain "merge == update".
func (s *Store) MergeRecord(ctx context.Context, project *domain.Project, id string, incoming map[string]string, existing map[string]string, updatedAt time.Time) error {
	merged := make(map[string]string, len(incoming))
	for name, value := range incoming {
		if value == "" {
			merged[name] = existing[name]
			continue
		}
		merged[name] = value
	}
	return s.UpdateRecord(ctx, project, id, merged, updatedAt)
}

// FindByDedupKey looks up an existing record whose dedup-key fields all
// equal the incoming values, returning nil when none matches.
func (s *Store) FindByDedupKey(ctx context.Context, project *domain.Project, keyValues map[string]string) (*Record, error) {
	if len(keyValues) == 0 {
		return nil, nil
	}
	table := project.RecordsTable()

	var whereClauses []string
	var args []any
	for name, value := range keyValues {
		whereClauses = append(whereClauses, quoteIdent(fieldColumn(name))+" = ?")
		args = append(args, value)
	}

	query := fmt.Sprintf("SELECT id, batch_id, status, error_message, raw_data, created_at, updated_at FROM %s WHERE %s LIMIT 1",
		quoteIdent(table), strings.Join(whereClauses, " AND "))

	row := s.db.QueryRowContext(ctx, query, args...)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.BatchID, &rec.Status, &rec.ErrorMessage, &rec.RawData, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, errs.NewStorageError(project.ID(), "find_dedup", "lookup by dedup key", err, false)
	}
	return &rec, nil
}

// GetRecordValues loads a record's field values by id, used by MergeRecord
// callers that need the prior values to overlay against.
func (s *Store) GetRecordValues(ctx context.Context, project *domain.Project, id string, fields []*domain.Field) (map[string]string, error) {
	if len(fields) == 0 {
		return map[string]string{}, nil
	}
	table := project.RecordsTable()

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = fieldColumn(f.Name())
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", quoteIdentList(cols), quoteIdent(table))

	row := s.db.QueryRowContext(ctx, query, id)
	dest := make([]any, len(fields))
	scratch := make([]string, len(fields))
	for i := range scratch {
		dest[i] = &scratch[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, errs.NewStorageError(project.ID(), "get_record", "load record values", err, false)
	}

	out := make(map[string]string, len(fields))
	for i, f := range fields {
		out[f.Name()] = scratch[i]
	}
	return out, nil
}

// RecordCount returns the total row count for a project's records table.
func (s *Store) RecordCount(ctx context.Context, project *domain.Project) (int, error) {
	table := project.RecordsTable()
	var count int
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table)))
	if err := row.Scan(&count); err != nil {
		return 0, errs.NewStorageError(project.ID(), "count", "count rows", err, false)
	}
	return count, nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteIdentList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quoteIdent(id)
	}
	return strings.Join(quoted, ", ")
}

func placeholderList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
