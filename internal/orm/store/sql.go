package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"

	// Registered database/sql drivers selectable through configuration
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the few SQL differences between supported drivers
type Dialect int

const (
	// DialectPostgres covers the "pgx" and "postgres" drivers
	DialectPostgres Dialect = iota
	// DialectSQLite covers the "sqlite3" driver
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return DialectPostgres, nil
	case "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// SQLStore implements Store over database/sql. Table and column names come
// from registered schemas, never from user input; values are always parameterized.
type SQLStore struct {
	db      *sql.DB
	schemas *schema.Registry
	dialect Dialect
}

// Open opens a database with the named driver and wraps it in a SQLStore
func Open(driver, dsn string, schemas *schema.Registry) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewSQLStore(db, dialect, schemas), nil
}

// NewSQLStore wraps an existing connection pool
func NewSQLStore(db *sql.DB, dialect Dialect, schemas *schema.Registry) *SQLStore {
	return &SQLStore{db: db, schemas: schemas, dialect: dialect}
}

// DB returns the underlying connection pool
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Find returns the matching records
func (s *SQLStore) Find(ctx context.Context, model string, q Query) ([]*record.Record, error) {
	ms, err := s.model(model)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(ms.FieldNames(), ", "), ms.TableName())
	b.WriteString(where)
	b.WriteString(orderClause(ms, q.OrderBy))
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", model, ConvertDBError(err))
	}
	defer rows.Close()

	recs, err := scanRecords(rows, ms)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", model, ConvertDBError(err))
	}
	return recs, nil
}

// Count returns the number of matching records
func (s *SQLStore) Count(ctx context.Context, model string, q Query) (int, error) {
	ms, err := s.model(model)
	if err != nil {
		return 0, err
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	var count int
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", ms.TableName(), where)
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", model, ConvertDBError(err))
	}
	return count, nil
}

// Get returns a single record by id
func (s *SQLStore) Get(ctx context.Context, model string, id int64) (*record.Record, error) {
	ms, err := s.model(model)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(ms.FieldNames(), ", "), ms.TableName())
	rows, err := s.db.QueryContext(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %d: %w", model, id, ConvertDBError(err))
	}
	defer rows.Close()

	recs, err := scanRecords(rows, ms)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s %d: %w", model, id, ConvertDBError(err))
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %d: %w", model, id, ErrNotFound)
	}
	return recs[0], nil
}

// Insert stores a new record and returns it with the database-assigned id
func (s *SQLStore) Insert(ctx context.Context, rec *record.Record) (*record.Record, error) {
	ms, err := s.model(rec.Model)
	if err != nil {
		return nil, err
	}

	columns, args := writableColumns(ms, rec)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ms.TableName(), strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", rec.Model, ConvertDBError(err))
	}

	stored := rec.Clone()
	stored.ID = id
	return stored, nil
}

// Update writes every non-id field of rec
func (s *SQLStore) Update(ctx context.Context, rec *record.Record) error {
	ms, err := s.model(rec.Model)
	if err != nil {
		return err
	}

	columns, args := writableColumns(ms, rec)
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	args = append(args, rec.ID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", ms.TableName(), strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", rec.Model, rec.ID, ConvertDBError(err))
	}
	return expectOneRow(result, rec.Model, rec.ID)
}

// Delete removes a record
func (s *SQLStore) Delete(ctx context.Context, model string, id int64) error {
	ms, err := s.model(model)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", ms.TableName()), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", model, id, ConvertDBError(err))
	}
	return expectOneRow(result, model, id)
}

// EnsureTables creates the table of every registered model if missing
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	for _, name := range s.schemas.List() {
		ms, _ := s.schemas.Get(name)
		if _, err := s.db.ExecContext(ctx, s.createTableSQL(ms)); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", name, ConvertDBError(err))
		}
	}
	return nil
}

func (s *SQLStore) createTableSQL(ms *schema.ModelSchema) string {
	cols := make([]string, 0, len(ms.Fields()))
	for _, f := range ms.Fields() {
		if f.Name == schema.PrimaryKey {
			if s.dialect == DialectSQLite {
				cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
			} else {
				cols = append(cols, "id BIGSERIAL PRIMARY KEY")
			}
			continue
		}
		col := fmt.Sprintf("%s %s", f.Name, s.columnType(f))
		if !f.Type.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ms.TableName(), strings.Join(cols, ", "))
}

func (s *SQLStore) columnType(f *schema.Field) string {
	switch f.Type.BaseType {
	case schema.TypeInt, schema.TypeForeignKey:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (s *SQLStore) model(name string) (*schema.ModelSchema, error) {
	ms, ok := s.schemas.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return ms, nil
}

func whereClause(q Query) (string, []interface{}, error) {
	if q.Where == nil {
		return "", nil, nil
	}
	counter := 1
	args := make([]interface{}, 0)
	clause, err := q.Where.ToSQL(&counter, &args)
	if err != nil {
		return "", nil, err
	}
	if clause == "" {
		return "", nil, nil
	}
	return " WHERE " + clause, args, nil
}

// orderClause drops unknown fields; callers validate ordering against the schema first
func orderClause(ms *schema.ModelSchema, orderBy []string) string {
	parts := make([]string, 0, len(orderBy)+1)
	for _, spec := range orderBy {
		field := strings.TrimPrefix(spec, "-")
		if !ms.HasField(field) {
			continue
		}
		dir := "ASC"
		if strings.HasPrefix(spec, "-") {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", field, dir))
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

func writableColumns(ms *schema.ModelSchema, rec *record.Record) ([]string, []interface{}) {
	var columns []string
	var args []interface{}
	for _, f := range ms.Fields() {
		if f.Name == schema.PrimaryKey {
			continue
		}
		columns = append(columns, f.Name)
		args = append(args, rec.Get(f.Name))
	}
	return columns, args
}

func expectOneRow(result sql.Result, model string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", model, id, ErrNotFound)
	}
	return nil
}

// scanRecords scans rows selected with ms.FieldNames() into records
func scanRecords(rows *sql.Rows, ms *schema.ModelSchema) ([]*record.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []*record.Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		rec := record.New(ms.Name, 0, nil)
		for i, col := range columns {
			if col == schema.PrimaryKey {
				if id, ok := normalize(schema.TypeInt, values[i]).(int64); ok {
					rec.ID = id
				}
				continue
			}
			if f, ok := ms.Field(col); ok {
				rec.Set(col, normalize(f.Type.BaseType, values[i]))
			}
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalize converts driver values into the Go types records carry:
// int64, float64, bool, string and time.Time
func normalize(t schema.PrimitiveType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t {
	case schema.TypeInt, schema.TypeForeignKey:
		switch n := v.(type) {
		case int64:
			return n
		case int32:
			return int64(n)
		case float64:
			return int64(n)
		case string:
			var out int64
			if _, err := fmt.Sscan(n, &out); err == nil {
				return out
			}
		}
	case schema.TypeFloat, schema.TypeDecimal:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case string:
			var out float64
			if _, err := fmt.Sscan(n, &out); err == nil {
				return out
			}
		}
	case schema.TypeBool:
		switch b := v.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		case string:
			return b == "1" || strings.EqualFold(b, "true") || b == "t"
		}
	case schema.TypeDate, schema.TypeTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, ts); err == nil {
					return parsed
				}
			}
		}
	}
	return v
}
