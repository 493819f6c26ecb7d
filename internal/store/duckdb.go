// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// DuckDBConfig tunes the embedded database connection.
type DuckDBConfig struct {
	Path      string
	MaxMemory string
	Threads   int
}

// DuckDB is a Store backed by an embedded DuckDB database. One table per
// persistent entity, named namespace_name. Decimals and times of day are
// stored as VARCHAR to guarantee exact round trips; reference sets are
// stored as JSON arrays in a VARCHAR column.
type DuckDB struct {
	conn    *sql.DB
	catalog *schema.Catalog
}

// OpenDuckDB opens (creating if needed) the database file and ensures a
// table exists for every persistent entity in the catalog.
func OpenDuckDB(cfg DuckDBConfig, catalog *schema.Catalog) (*DuckDB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	// Ensure parent directory exists for the database file.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, threads, maxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DuckDB{conn: conn, catalog: catalog}
	if err := db.ensureSchema(); err != nil {
		conn.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	return db, nil
}

func (d *DuckDB) ensureSchema() error {
	for _, e := range d.catalog.AllEntityTypes() {
		ddl := createTableDDL(e, d.catalog)
		if _, err := d.conn.Exec(ddl); err != nil {
			// One bad entity must not abort the whole catalog.
			d.catalog.Warning(fmt.Sprintf("entity %q: table creation failed: %v", e.QualifiedName(), err))
			logging.Warn().Err(err).Str("entity", e.QualifiedName()).Msg("Skipping entity: table creation failed")
		}
	}
	return nil
}

func tableName(entity string) string {
	return strings.ReplaceAll(entity, ".", "_")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnType(kind schema.FieldKind, catalog *schema.Catalog, target string) string {
	switch kind {
	case schema.KindInteger:
		return "BIGINT"
	case schema.KindBoolean:
		return "BOOLEAN"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindDate:
		return "DATE"
	case schema.KindReference:
		if t, err := catalog.Lookup(target); err == nil && t.PrimaryKeyKind == schema.KindInteger {
			return "BIGINT"
		}
		return "VARCHAR"
	default:
		// text, decimal, time, binary_ref, reference_set
		return "VARCHAR"
	}
}

func createTableDDL(e *schema.EntityType, catalog *schema.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(tableName(e.QualifiedName())))
	pkType := "BIGINT"
	if e.PrimaryKeyKind == schema.KindText {
		pkType = "VARCHAR"
	}
	fmt.Fprintf(&b, "%s %s PRIMARY KEY", quoteIdent(e.PrimaryKey), pkType)
	for _, f := range e.Fields {
		fmt.Fprintf(&b, ", %s %s", quoteIdent(f.Name), columnType(f.Kind, catalog, f.Target))
	}
	b.WriteString(")")
	return b.String()
}

// Count returns the number of records of the entity.
func (d *DuckDB) Count(ctx context.Context, entity string) (int64, error) {
	e, err := d.catalog.Lookup(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(tableName(e.QualifiedName())))
	if err := d.conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrEntityUnavailable, entity, err)
	}
	return n, nil
}

// ReadChunk returns up to limit records starting at offset, ordered by
// primary key for stability.
func (d *DuckDB) ReadChunk(ctx context.Context, entity string, offset, limit int) ([]Record, error) {
	e, err := d.catalog.Lookup(entity)
	if err != nil {
		return nil, err
	}
	cols := []string{quoteIdent(e.PrimaryKey)}
	for _, f := range e.Fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		strings.Join(cols, ", "), quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey), limit, offset)
	rows, err := d.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEntityUnavailable, entity, err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(e, d.catalog, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns the record with the given primary key.
func (d *DuckDB) Get(ctx context.Context, entity string, pk any) (Record, bool, error) {
	e, err := d.catalog.Lookup(entity)
	if err != nil {
		return Record{}, false, err
	}
	cols := []string{quoteIdent(e.PrimaryKey)}
	for _, f := range e.Fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey))
	rows, err := d.conn.QueryContext(ctx, q, bindPK(e, pk))
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %s: %v", ErrEntityUnavailable, entity, err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	if !rows.Next() {
		return Record{}, false, rows.Err()
	}
	rec, err := scanRecord(e, d.catalog, rows)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// AnyPK returns the smallest primary key of the entity, if any record exists.
func (d *DuckDB) AnyPK(ctx context.Context, entity string) (any, bool, error) {
	e, err := d.catalog.Lookup(entity)
	if err != nil {
		return nil, false, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1",
		quoteIdent(e.PrimaryKey), quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey))
	if e.PrimaryKeyKind == schema.KindText {
		var pk string
		err := d.conn.QueryRowContext(ctx, q).Scan(&pk)
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return pk, true, nil
	}
	var pk int64
	err = d.conn.QueryRowContext(ctx, q).Scan(&pk)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return pk, true, nil
}

// Upsert creates the record or merges the given fields into the existing one.
func (d *DuckDB) Upsert(ctx context.Context, entity string, rec Record) error {
	return upsertSQL(ctx, d.conn, d.catalog, entity, rec)
}

// Close closes the database connection.
func (d *DuckDB) Close() error {
	return d.conn.Close()
}

// Begin opens a database transaction for purge execution.
func (d *DuckDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &duckTx{tx: tx, catalog: d.catalog}, nil
}

type duckTx struct {
	tx      *sql.Tx
	catalog *schema.Catalog
}

// DeleteAll removes every record of the entity.
func (t *duckTx) DeleteAll(ctx context.Context, entity string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(tableName(entity))))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllExcept removes every record except the one with keepPK.
func (t *duckTx) DeleteAllExcept(ctx context.Context, entity string, keepPK any) (int64, error) {
	e, err := t.catalog.Lookup(entity)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s <> ?",
		quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey))
	res, err := t.tx.ExecContext(ctx, q, bindPK(e, keepPK))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NullifyField sets the named field to NULL on every record.
func (t *duckTx) NullifyField(ctx context.Context, entity, field string) error {
	q := fmt.Sprintf("UPDATE %s SET %s = NULL", quoteIdent(tableName(entity)), quoteIdent(field))
	_, err := t.tx.ExecContext(ctx, q)
	return err
}

// RepointField sets the named reference to `to` wherever it holds any other
// non-null value.
func (t *duckTx) RepointField(ctx context.Context, entity, field string, to any) error {
	q := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NOT NULL AND %s <> ?",
		quoteIdent(tableName(entity)), quoteIdent(field), quoteIdent(field), quoteIdent(field))
	_, err := t.tx.ExecContext(ctx, q, to, to)
	return err
}

// Upsert creates or merges a record inside the transaction.
func (t *duckTx) Upsert(ctx context.Context, entity string, rec Record) error {
	return upsertSQL(ctx, t.tx, t.catalog, entity, rec)
}

// Exists reports whether a record with the primary key exists.
func (t *duckTx) Exists(ctx context.Context, entity string, pk any) (bool, error) {
	e, err := t.catalog.Lookup(entity)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?",
		quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey))
	var n int64
	if err := t.tx.QueryRowContext(ctx, q, bindPK(e, pk)).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *duckTx) Commit() error   { return t.tx.Commit() }
func (t *duckTx) Rollback() error { return t.tx.Rollback() }

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertSQL implements merge-style upsert: the existing row (if any) is read,
// the incoming fields are merged over it, and the full row is written back
// with INSERT OR REPLACE.
func upsertSQL(ctx context.Context, q querier, catalog *schema.Catalog, entity string, rec Record) error {
	e, err := catalog.Lookup(entity)
	if err != nil {
		return err
	}

	merged := rec.Clone()
	cols := []string{quoteIdent(e.PrimaryKey)}
	for _, f := range e.Fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	sel := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), quoteIdent(tableName(entity)), quoteIdent(e.PrimaryKey))
	rows, err := q.QueryContext(ctx, sel, bindPK(e, rec.PK))
	if err == nil {
		if rows.Next() {
			existing, scanErr := scanRecord(e, catalog, rows)
			if scanErr == nil {
				base := existing.Clone()
				for k, v := range merged.Fields {
					base.Fields[k] = v
				}
				merged = base
			}
		}
		rows.Close() //nolint:errcheck // Read-only cursor
	}

	placeholders := make([]string, 0, len(e.Fields)+1)
	args := make([]any, 0, len(e.Fields)+1)
	placeholders = append(placeholders, "?")
	args = append(args, bindPK(e, rec.PK))
	for _, f := range e.Fields {
		placeholders = append(placeholders, "?")
		args = append(args, bindValue(f, merged.Fields[f.Name]))
	}
	ins := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName(entity)), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := q.ExecContext(ctx, ins, args...); err != nil {
		return fmt.Errorf("upsert %s[%s]: %w", entity, KeyString(rec.PK), err)
	}
	return nil
}

func bindPK(e *schema.EntityType, pk any) any {
	if e.PrimaryKeyKind == schema.KindText {
		return KeyString(pk)
	}
	switch v := pk.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return pk
	}
}

// bindValue converts a native field value into its SQL representation.
func bindValue(f schema.FieldDescriptor, v any) any {
	if v == nil {
		return nil
	}
	switch f.Kind {
	case schema.KindDecimal:
		if d, ok := v.(decimal.Decimal); ok {
			return d.String()
		}
		return fmt.Sprintf("%v", v)
	case schema.KindReferenceSet:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(data)
	case schema.KindReference:
		return v
	default:
		return v
	}
}

// scanner abstracts *sql.Rows for single-row scans.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row into a Record with native field values.
func scanRecord(e *schema.EntityType, catalog *schema.Catalog, row scanner) (Record, error) {
	dests := make([]any, 0, len(e.Fields)+1)

	var pkInt sql.NullInt64
	var pkText sql.NullString
	if e.PrimaryKeyKind == schema.KindText {
		dests = append(dests, &pkText)
	} else {
		dests = append(dests, &pkInt)
	}

	holders := make([]any, len(e.Fields))
	for i, f := range e.Fields {
		switch f.Kind {
		case schema.KindInteger:
			holders[i] = &sql.NullInt64{}
		case schema.KindBoolean:
			holders[i] = &sql.NullBool{}
		case schema.KindTimestamp, schema.KindDate:
			holders[i] = &sql.NullTime{}
		case schema.KindReference:
			if t, err := catalog.Lookup(f.Target); err == nil && t.PrimaryKeyKind == schema.KindText {
				holders[i] = &sql.NullString{}
			} else {
				holders[i] = &sql.NullInt64{}
			}
		default:
			holders[i] = &sql.NullString{}
		}
		dests = append(dests, holders[i])
	}

	if err := row.Scan(dests...); err != nil {
		return Record{}, fmt.Errorf("scan %s: %w", e.QualifiedName(), err)
	}

	rec := Record{Fields: make(map[string]any, len(e.Fields))}
	if e.PrimaryKeyKind == schema.KindText {
		rec.PK = pkText.String
	} else {
		rec.PK = pkInt.Int64
	}

	for i, f := range e.Fields {
		v, err := nativeValue(f, holders[i])
		if err != nil {
			return Record{}, err
		}
		rec.Fields[f.Name] = v
	}
	return rec, nil
}

// nativeValue converts a scanned SQL value into the store's native type.
func nativeValue(f schema.FieldDescriptor, holder any) (any, error) {
	switch h := holder.(type) {
	case *sql.NullInt64:
		if !h.Valid {
			return nil, nil
		}
		return h.Int64, nil
	case *sql.NullBool:
		if !h.Valid {
			return nil, nil
		}
		return h.Bool, nil
	case *sql.NullTime:
		if !h.Valid {
			return nil, nil
		}
		return h.Time, nil
	case *sql.NullString:
		if !h.Valid {
			return nil, nil
		}
		switch f.Kind {
		case schema.KindDecimal:
			d, err := decimal.NewFromString(h.String)
			if err != nil {
				return nil, fmt.Errorf("field %q: invalid decimal %q: %w", f.Name, h.String, err)
			}
			return d, nil
		case schema.KindReferenceSet:
			var list []any
			if err := json.Unmarshal([]byte(h.String), &list); err != nil {
				return nil, fmt.Errorf("field %q: invalid reference set %q: %w", f.Name, h.String, err)
			}
			return normalizeKeyList(list), nil
		default:
			return h.String, nil
		}
	default:
		return nil, fmt.Errorf("field %q: unsupported scan holder %T", f.Name, holder)
	}
}

// normalizeKeyList converts JSON-decoded float64 keys back to int64.
func normalizeKeyList(list []any) []any {
	out := make([]any, len(list))
	for i, v := range list {
		if fv, ok := v.(float64); ok && fv == float64(int64(fv)) {
			out[i] = int64(fv)
			continue
		}
		out[i] = v
	}
	return out
}
