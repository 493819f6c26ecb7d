// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package store defines the record storage contract the portability engine
// runs against, plus the two shipped implementations: an in-memory store
// with commit-time referential-integrity checking, and a DuckDB-backed
// store for persistent deployments.
//
// Field values use a small closed set of Go types matching the schema
// field kinds:
//
//	text, binary_ref, time  string
//	integer                 int64
//	decimal                 decimal.Decimal
//	boolean                 bool
//	timestamp, date         time.Time
//	reference               primary key value (int64 or string)
//	reference_set           []any of primary key values
//
// Absent/null fields are either missing from the map or stored as nil.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrEntityUnavailable marks an entity whose underlying table cannot be
// read. Catalog-level introspection skips such entities with a warning
// instead of failing the whole scan.
var ErrEntityUnavailable = errors.New("entity storage unavailable")

// ErrIntegrity marks a referential-integrity violation detected while
// committing a transaction. The transaction is rolled back as a whole.
var ErrIntegrity = errors.New("referential integrity violation")

// Record is one stored record: its primary key and field values.
type Record struct {
	PK     any
	Fields map[string]any
}

// Clone returns a deep-enough copy: field maps are copied, reference-set
// slices are copied, scalar values are shared.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		if list, ok := v.([]any); ok {
			cp := make([]any, len(list))
			copy(cp, list)
			fields[k] = cp
			continue
		}
		fields[k] = v
	}
	return Record{PK: r.PK, Fields: fields}
}

// Store is the read/write surface of the record store.
type Store interface {
	// Count returns the number of records of the entity.
	Count(ctx context.Context, entity string) (int64, error)

	// ReadChunk returns up to limit records starting at offset, in a
	// stable order.
	ReadChunk(ctx context.Context, entity string, offset, limit int) ([]Record, error)

	// Get returns the record with the given primary key.
	Get(ctx context.Context, entity string, pk any) (Record, bool, error)

	// AnyPK returns the primary key of an arbitrary existing record,
	// deterministically the first in chunk order.
	AnyPK(ctx context.Context, entity string) (any, bool, error)

	// Upsert creates the record or merges the given fields into the
	// existing record with the same primary key.
	Upsert(ctx context.Context, entity string, rec Record) error

	// Begin opens a transaction for purge execution.
	Begin(ctx context.Context) (Tx, error)

	// Close releases underlying resources.
	Close() error
}

// Tx is an all-or-nothing mutation scope. Either Commit applies every
// operation or Rollback discards them all.
type Tx interface {
	// DeleteAll removes every record of the entity, returning the count.
	DeleteAll(ctx context.Context, entity string) (int64, error)

	// DeleteAllExcept removes every record of the entity except the one
	// with the given primary key.
	DeleteAllExcept(ctx context.Context, entity string, keepPK any) (int64, error)

	// NullifyField sets the named field to null on every record.
	NullifyField(ctx context.Context, entity, field string) error

	// RepointField sets the named reference field to the given target on
	// every record where it holds any other non-null value.
	RepointField(ctx context.Context, entity, field string, to any) error

	// Upsert creates or merges a record inside the transaction.
	Upsert(ctx context.Context, entity string, rec Record) error

	// Exists reports whether a record with the primary key exists.
	Exists(ctx context.Context, entity string, pk any) (bool, error)

	Commit() error
	Rollback() error
}

// KeyString normalizes a primary key value to its canonical string form,
// so int64(7), float64(7) and "7" address the same record.
func KeyString(pk any) string {
	switch v := pk.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
