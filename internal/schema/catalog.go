// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package schema provides the static entity catalog for the data
// portability engine.
//
// The catalog is an explicit registry of entity descriptors built once at
// startup. Nothing in the engine reflects over live Go types: the dependency
// graph, the record codec, and the serializers all consume FieldDescriptors,
// which keeps them decoupled from any particular data-access layer.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// FieldDescriptor describes one field of an entity type.
type FieldDescriptor struct {
	// Name is the field name, unique within the entity.
	Name string

	// Kind is the semantic type of the field.
	Kind FieldKind

	// Nullable reports whether the field may hold no value.
	Nullable bool

	// Target is the qualified name of the referenced entity type.
	// Set only for reference kinds.
	Target string

	// Soft marks a historical/audit reference that must not block deletion
	// of its target. Soft references are excluded from the dependency graph;
	// during a purge they are repointed to the target's sentinel record.
	Soft bool
}

// EntityType describes one logical table/model known to the engine.
type EntityType struct {
	// Namespace groups related entities (e.g. "sales", "ledger").
	Namespace string

	// Name is the local entity name within the namespace.
	Name string

	// Fields is the ordered list of field descriptors, excluding the
	// primary key.
	Fields []FieldDescriptor

	// PrimaryKey is the name of the primary key field.
	PrimaryKey string

	// PrimaryKeyKind is the semantic type of the primary key
	// (KindInteger or KindText).
	PrimaryKeyKind FieldKind

	// Persistent reports whether records of this type exist in storage.
	// Metadata-only types are skipped by every operation.
	Persistent bool

	// SentinelPK, when non-nil, names the primary key of the record kept
	// alive when this entity is purged while soft references point at it.
	SentinelPK any

	// SentinelLabelField, when set, is the text field stamped with the
	// sentinel marker value when the sentinel record is created.
	SentinelLabelField string
}

// QualifiedName returns "namespace.name".
func (e *EntityType) QualifiedName() string {
	return e.Namespace + "." + e.Name
}

// Field returns the descriptor for the named field.
func (e *EntityType) Field(name string) (FieldDescriptor, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// ReferenceFields returns the descriptors of reference kinds, optionally
// including soft references.
func (e *EntityType) ReferenceFields(includeSoft bool) []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range e.Fields {
		if !f.Kind.IsReference() {
			continue
		}
		if f.Soft && !includeSoft {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Catalog is a snapshot of all registered entity types.
//
// Registration happens at startup; afterwards the catalog is read-only and
// safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	entities []*EntityType
	byName   map[string]*EntityType
	excluded map[string]bool
	warnings []string
}

// NewCatalog creates an empty catalog. Entities whose qualified names appear
// in exclusions are registered but never returned by EntityTypes; this is
// how framework-owned tables (sessions, permission definitions) are kept out
// of backups and purges.
func NewCatalog(exclusions ...string) *Catalog {
	excluded := make(map[string]bool, len(exclusions))
	for _, name := range exclusions {
		excluded[name] = true
	}
	return &Catalog{
		byName:   make(map[string]*EntityType),
		excluded: excluded,
	}
}

// Register adds an entity type to the catalog.
//
// A structurally invalid entity (duplicate name, unknown reference target at
// validation time) is skipped with a recorded warning rather than aborting
// registration of the rest of the catalog.
func (c *Catalog) Register(e *EntityType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := e.QualifiedName()
	if e.Namespace == "" || e.Name == "" {
		err := fmt.Errorf("entity %q: namespace and name are required", name)
		c.warnings = append(c.warnings, err.Error())
		return err
	}
	if _, exists := c.byName[name]; exists {
		err := fmt.Errorf("entity %q: duplicate qualified name", name)
		c.warnings = append(c.warnings, err.Error())
		return err
	}
	if e.PrimaryKey == "" {
		e.PrimaryKey = "id"
	}
	if e.PrimaryKeyKind != KindInteger && e.PrimaryKeyKind != KindText {
		err := fmt.Errorf("entity %q: primary key must be integer or text", name)
		c.warnings = append(c.warnings, err.Error())
		return err
	}

	c.entities = append(c.entities, e)
	c.byName[name] = e
	return nil
}

// Validate checks that every reference target is a registered entity.
// Entities with dangling targets are recorded as warnings and demoted to
// non-persistent so no operation touches them; validation itself never
// fails the catalog as a whole.
func (c *Catalog) Validate() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var bad []string
	for _, e := range c.entities {
		for _, f := range e.Fields {
			if !f.Kind.IsReference() {
				continue
			}
			if _, ok := c.byName[f.Target]; !ok {
				msg := fmt.Sprintf("entity %q: field %q references unknown entity %q",
					e.QualifiedName(), f.Name, f.Target)
				c.warnings = append(c.warnings, msg)
				bad = append(bad, msg)
				e.Persistent = false
			}
		}
	}
	return bad
}

// EntityTypes returns every persistent, non-excluded entity type in
// registration order.
func (c *Catalog) EntityTypes() []*EntityType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*EntityType, 0, len(c.entities))
	for _, e := range c.entities {
		if !e.Persistent || c.excluded[e.QualifiedName()] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AllEntityTypes returns every persistent entity type, including excluded
// ones. The deletion planner uses this to detect references held by
// framework-owned tables that can never be part of a purge selection.
func (c *Catalog) AllEntityTypes() []*EntityType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*EntityType, 0, len(c.entities))
	for _, e := range c.entities {
		if !e.Persistent {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Lookup returns the entity type with the given qualified name.
// Excluded and non-persistent entities are not found.
func (c *Catalog) Lookup(qualified string) (*EntityType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byName[qualified]
	if !ok || !e.Persistent || c.excluded[qualified] {
		return nil, fmt.Errorf("unknown entity type %q", qualified)
	}
	return e, nil
}

// LookupAny returns the entity type regardless of exclusion, for callers
// that must see framework-owned tables (the deletion planner, schema
// setup).
func (c *Catalog) LookupAny(qualified string) (*EntityType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byName[qualified]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", qualified)
	}
	return e, nil
}

// Excluded reports whether the qualified name is on the exclusion list.
func (c *Catalog) Excluded(qualified string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.excluded[qualified]
}

// Describe returns the field descriptors of the named entity.
func (c *Catalog) Describe(qualified string) ([]FieldDescriptor, error) {
	e, err := c.Lookup(qualified)
	if err != nil {
		return nil, err
	}
	fields := make([]FieldDescriptor, len(e.Fields))
	copy(fields, e.Fields)
	return fields, nil
}

// Warning records an introspection warning against the catalog.
func (c *Catalog) Warning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}

// Warnings returns all recorded warnings, sorted for stable output.
func (c *Catalog) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	sort.Strings(out)
	return out
}
