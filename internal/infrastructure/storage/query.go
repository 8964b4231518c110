package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/expr-lang/expr"
	excelize "github.com/xuri/excelize/v2"

	"github.com/colmap/colmap/internal/domain"
	"github.com/colmap/colmap/internal/domain/errs"
)

// evalRecordExpr compiles and runs a boolean expr-lang expression against a
// record's field values, exposed to the expression as a "record" map.
func evalRecordExpr(expression string, values map[string]string) (bool, error) {
	env := map[string]any{"record": toAnyMap(values)}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, _ := out.(bool)
	return matched, nil
}

func toAnyMap(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// QueryFilter narrows a record listing. BatchID/Status are plain equality
// filters (the mandatory path); Expr is an optional expr-lang expression
// evaluated against each row's field values for callers that need
// composite conditions beyond equality — the mandatory filters above are
// always available even when Expr is empty.
type QueryFilter struct {
	BatchID   string
	Status    string
	Search    string
	Expr      string
	OrderBy   string
	OrderDesc bool
	Offset    int
	Limit     int
}

// QueryRecords returns a page of records for project matching filter,
// restricted to the current (active) field set's columns.
func (s *Store) QueryRecords(ctx context.Context, project *domain.Project, fields []*domain.Field, filter QueryFilter) ([]Record, int, error) {
	table := project.RecordsTable()

	var where []string
	var args []any
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		var orParts []string
		for _, f := range fields {
			orParts = append(orParts, quoteIdent(fieldColumn(f.Name()))+" LIKE ?")
			args = append(args, "%"+filter.Search+"%")
		}
		if len(orParts) > 0 {
			where = append(where, "("+strings.Join(orParts, " OR ")+")")
		}
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", quoteIdent(table), whereSQL)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errs.NewStorageError(project.ID(), "query", "count filtered rows", err, false)
	}

	order := "created_at"
	if filter.OrderBy != "" {
		order = filter.OrderBy
	}
	direction := "ASC"
	if filter.OrderDesc {
		direction = "DESC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	fieldCols := make([]string, len(fields))
	for i, f := range fields {
		fieldCols[i] = fieldColumn(f.Name())
	}
	selectCols := append([]string{"id", "batch_id", "status", "error_message", "raw_data", "created_at", "updated_at"}, fieldCols...)

	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s %s LIMIT ? OFFSET ?",
		quoteIdentList(selectCols), quoteIdent(table), whereSQL, quoteIdent(order), direction)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.NewStorageError(project.ID(), "query", "list filtered rows", err, false)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec := Record{Values: make(map[string]string, len(fields))}
		dest := []any{&rec.ID, &rec.BatchID, &rec.Status, &rec.ErrorMessage, &rec.RawData, &rec.CreatedAt, &rec.UpdatedAt}
		scratch := make([]string, len(fields))
		for i := range scratch {
			dest = append(dest, &scratch[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, errs.NewStorageError(project.ID(), "query", "scan row", err, false)
		}
		for i, f := range fields {
			rec.Values[f.Name()] = scratch[i]
		}
		if filter.Expr != "" {
			matched, err := evalRecordExpr(filter.Expr, rec.Values)
			if err != nil {
				return nil, 0, errs.NewStorageError(project.ID(), "query", "evaluate filter expression", err, false)
			}
			if !matched {
				continue
			}
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// ExportCSV writes every record matching filter to w as UTF-8 CSV with a
// header row of field labels.
func (s *Store) ExportCSV(ctx context.Context, project *domain.Project, fields []*domain.Field, filter QueryFilter, w io.Writer) error {
	filter.Limit = 1 << 30
	records, _, err := s.QueryRecords(ctx, project, fields, filter)
	if err != nil {
		return err
	}

	if _, err := w.Write([]byte("\xEF\xBB\xBF")); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Label()
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = rec.Values[f.Name()]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportXLSX writes every record matching filter to w as an .xlsx workbook.
func (s *Store) ExportXLSX(ctx context.Context, project *domain.Project, fields []*domain.Field, filter QueryFilter, w io.Writer) error {
	filter.Limit = 1 << 30
	records, _, err := s.QueryRecords(ctx, project, fields, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	for i, field := range fields {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, field.Label())
	}
	for r, rec := range records {
		for i, field := range fields {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			f.SetCellValue(sheet, cell, rec.Values[field.Name()])
		}
	}

	return f.Write(w)
}
