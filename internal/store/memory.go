// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// Memory is an in-memory Store keyed by normalized primary key. Insertion
// order per entity is preserved so chunked reads and AnyPK are
// deterministic. Transactions operate on a full copy and verify hard
// referential integrity at commit, mimicking a database that checks
// foreign keys at transaction end.
type Memory struct {
	mu      sync.RWMutex
	catalog *schema.Catalog
	tables  map[string]*memTable

	// broken marks entities whose reads fail with ErrEntityUnavailable,
	// used to exercise the catalog's skip-and-warn path in tests.
	broken map[string]bool
}

type memTable struct {
	records map[string]Record
	order   []string
}

// NewMemory creates an empty in-memory store over the given catalog.
// Tables exist implicitly for every persistent entity.
func NewMemory(catalog *schema.Catalog) *Memory {
	return &Memory{
		catalog: catalog,
		tables:  make(map[string]*memTable),
		broken:  make(map[string]bool),
	}
}

// BreakEntity makes all reads of the entity fail with ErrEntityUnavailable.
func (m *Memory) BreakEntity(entity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken[entity] = true
}

// table returns the entity's table, creating it on first write. Callers
// must hold the write lock.
func (m *Memory) table(entity string) *memTable {
	t, ok := m.tables[entity]
	if !ok {
		t = &memTable{records: make(map[string]Record)}
		m.tables[entity] = t
	}
	return t
}

// readTable returns the entity's table without creating it, so readers
// under the shared lock never mutate the table map. A nil table reads as
// empty.
func (m *Memory) readTable(entity string) *memTable {
	return m.tables[entity]
}

func (m *Memory) checkReadable(entity string) error {
	if m.broken[entity] {
		return fmt.Errorf("%w: %s", ErrEntityUnavailable, entity)
	}
	if _, err := m.catalog.Lookup(entity); err != nil {
		return err
	}
	return nil
}

// Count returns the number of records of the entity.
func (m *Memory) Count(ctx context.Context, entity string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReadable(entity); err != nil {
		return 0, err
	}
	t := m.readTable(entity)
	if t == nil {
		return 0, nil
	}
	return int64(len(t.order)), nil
}

// ReadChunk returns up to limit records starting at offset in insertion order.
func (m *Memory) ReadChunk(ctx context.Context, entity string, offset, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReadable(entity); err != nil {
		return nil, err
	}
	t := m.readTable(entity)
	if t == nil || offset >= len(t.order) {
		return nil, nil
	}
	end := offset + limit
	if end > len(t.order) {
		end = len(t.order)
	}
	out := make([]Record, 0, end-offset)
	for _, key := range t.order[offset:end] {
		out = append(out, t.records[key].Clone())
	}
	return out, nil
}

// Get returns the record with the given primary key.
func (m *Memory) Get(ctx context.Context, entity string, pk any) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReadable(entity); err != nil {
		return Record{}, false, err
	}
	rec, ok := m.readTable(entity).lookup(pk)
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// AnyPK returns the primary key of the first record in insertion order.
func (m *Memory) AnyPK(ctx context.Context, entity string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReadable(entity); err != nil {
		return nil, false, err
	}
	t := m.readTable(entity)
	if t == nil || len(t.order) == 0 {
		return nil, false, nil
	}
	return t.records[t.order[0]].PK, true, nil
}

// Upsert creates the record or merges fields into the existing one.
func (m *Memory) Upsert(ctx context.Context, entity string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReadable(entity); err != nil {
		return err
	}
	upsertInto(m.table(entity), rec)
	return nil
}

func upsertInto(t *memTable, rec Record) {
	key := KeyString(rec.PK)
	if existing, ok := t.records[key]; ok {
		merged := existing.Clone()
		for k, v := range rec.Clone().Fields {
			merged.Fields[k] = v
		}
		t.records[key] = merged
		return
	}
	t.records[key] = rec.Clone()
	t.order = append(t.order, key)
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Begin opens a copy-on-write transaction.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shadow := make(map[string]*memTable, len(m.tables))
	for name, t := range m.tables {
		ct := &memTable{records: make(map[string]Record, len(t.records))}
		ct.order = append(ct.order, t.order...)
		for key, rec := range t.records {
			ct.records[key] = rec.Clone()
		}
		shadow[name] = ct
	}
	return &memTx{store: m, tables: shadow}, nil
}

type memTx struct {
	store  *Memory
	tables map[string]*memTable
	done   bool
}

func (tx *memTx) table(entity string) *memTable {
	t, ok := tx.tables[entity]
	if !ok {
		t = &memTable{records: make(map[string]Record)}
		tx.tables[entity] = t
	}
	return t
}

// DeleteAll removes every record of the entity.
func (tx *memTx) DeleteAll(ctx context.Context, entity string) (int64, error) {
	t := tx.table(entity)
	n := int64(len(t.order))
	t.records = make(map[string]Record)
	t.order = nil
	return n, nil
}

// DeleteAllExcept removes every record except the one with keepPK.
func (tx *memTx) DeleteAllExcept(ctx context.Context, entity string, keepPK any) (int64, error) {
	t := tx.table(entity)
	keep := KeyString(keepPK)
	var deleted int64
	kept := &memTable{records: make(map[string]Record)}
	for _, key := range t.order {
		if key == keep {
			kept.records[key] = t.records[key]
			kept.order = append(kept.order, key)
			continue
		}
		deleted++
	}
	tx.tables[entity] = kept
	return deleted, nil
}

// NullifyField sets the field to nil on every record.
func (tx *memTx) NullifyField(ctx context.Context, entity, field string) error {
	t := tx.table(entity)
	for key, rec := range t.records {
		rec.Fields[field] = nil
		t.records[key] = rec
	}
	return nil
}

// RepointField sets the reference field to `to` wherever it holds any other
// non-null value.
func (tx *memTx) RepointField(ctx context.Context, entity, field string, to any) error {
	t := tx.table(entity)
	target := KeyString(to)
	for key, rec := range t.records {
		v, ok := rec.Fields[field]
		if !ok || v == nil {
			continue
		}
		if KeyString(v) != target {
			rec.Fields[field] = to
			t.records[key] = rec
		}
	}
	return nil
}

// Upsert creates or merges a record inside the transaction.
func (tx *memTx) Upsert(ctx context.Context, entity string, rec Record) error {
	upsertInto(tx.table(entity), rec)
	return nil
}

// Exists reports whether a record with the primary key exists.
func (tx *memTx) Exists(ctx context.Context, entity string, pk any) (bool, error) {
	_, ok := tx.table(entity).records[KeyString(pk)]
	return ok, nil
}

// Commit verifies hard referential integrity over the shadow copy and, if
// clean, atomically replaces the live tables.
func (tx *memTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true

	if err := tx.verifyIntegrity(); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.tables = tx.tables
	return nil
}

// Rollback discards the shadow copy.
func (tx *memTx) Rollback() error {
	tx.done = true
	return nil
}

// verifyIntegrity scans every hard reference field of every surviving
// record for dangling targets.
func (tx *memTx) verifyIntegrity() error {
	var violations []string
	for _, e := range tx.store.catalog.AllEntityTypes() {
		entity := e.QualifiedName()
		refs := e.ReferenceFields(false)
		if len(refs) == 0 {
			continue
		}
		t, ok := tx.tables[entity]
		if !ok {
			continue
		}
		for _, key := range t.order {
			rec := t.records[key]
			for _, f := range refs {
				v, present := rec.Fields[f.Name]
				if !present || v == nil {
					continue
				}
				targets := []any{v}
				if list, isList := v.([]any); isList {
					targets = list
				}
				for _, pk := range targets {
					if pk == nil {
						continue
					}
					if _, exists := tx.tables[f.Target].lookup(pk); !exists {
						violations = append(violations,
							fmt.Sprintf("%s[%s].%s -> %s[%s]", entity, key, f.Name, f.Target, KeyString(pk)))
					}
				}
			}
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return fmt.Errorf("%w: %v", ErrIntegrity, violations)
	}
	return nil
}

func (t *memTable) lookup(pk any) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	rec, ok := t.records[KeyString(pk)]
	return rec, ok
}
