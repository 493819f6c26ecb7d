// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package schema

import (
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	c := NewCatalog()
	err := c.Register(&EntityType{
		Namespace:      "inventory",
		Name:           "category",
		PrimaryKey:     "id",
		PrimaryKeyKind: KindInteger,
		Persistent:     true,
		Fields: []FieldDescriptor{
			{Name: "name", Kind: KindText},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e, err := c.Lookup("inventory.category")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if e.QualifiedName() != "inventory.category" {
		t.Errorf("QualifiedName() = %q, want %q", e.QualifiedName(), "inventory.category")
	}

	if _, err := c.Lookup("inventory.missing"); err == nil {
		t.Error("Lookup() of unknown entity should fail")
	}
}

func TestRegisterDuplicateSkippedWithWarning(t *testing.T) {
	c := NewCatalog()
	first := &EntityType{Namespace: "a", Name: "x", PrimaryKey: "id", PrimaryKeyKind: KindInteger, Persistent: true}
	if err := c.Register(first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Register(&EntityType{Namespace: "a", Name: "x", PrimaryKey: "id", PrimaryKeyKind: KindInteger, Persistent: true}); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if len(c.Warnings()) == 0 {
		t.Error("duplicate Register() should record a warning")
	}
	// The original registration must be untouched.
	if e, err := c.Lookup("a.x"); err != nil || e != first {
		t.Errorf("Lookup() after duplicate = %v, %v", e, err)
	}
}

func TestValidateDemotesDanglingTargets(t *testing.T) {
	c := NewCatalog()
	if err := c.Register(&EntityType{
		Namespace:      "sales",
		Name:           "order",
		PrimaryKey:     "id",
		PrimaryKeyKind: KindInteger,
		Persistent:     true,
		Fields: []FieldDescriptor{
			{Name: "customer", Kind: KindReference, Target: "parties.ghost"},
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	bad := c.Validate()
	if len(bad) != 1 {
		t.Fatalf("Validate() returned %d warnings, want 1", len(bad))
	}
	// Demoted entities disappear from the working set but introspection
	// of the catalog as a whole succeeded.
	for _, e := range c.EntityTypes() {
		if e.QualifiedName() == "sales.order" {
			t.Error("entity with dangling reference should be demoted")
		}
	}
}

func TestExclusionList(t *testing.T) {
	c := NewCatalog("system.session")
	RegisterBuiltin(c)

	if !c.Excluded("system.session") {
		t.Error("Excluded(system.session) = false, want true")
	}
	for _, e := range c.EntityTypes() {
		if e.QualifiedName() == "system.session" {
			t.Error("EntityTypes() must not include excluded entities")
		}
	}

	// AllEntityTypes keeps excluded entities visible for the planner.
	var found bool
	for _, e := range c.AllEntityTypes() {
		if e.QualifiedName() == "system.session" {
			found = true
		}
	}
	if !found {
		t.Error("AllEntityTypes() should include excluded entities")
	}
}

func TestBuiltinCatalogValidates(t *testing.T) {
	c := NewCatalog(DefaultExclusions...)
	RegisterBuiltin(c)
	if bad := c.Validate(); len(bad) != 0 {
		t.Errorf("builtin catalog has dangling references: %v", bad)
	}
	if len(c.EntityTypes()) == 0 {
		t.Error("builtin catalog is empty")
	}
}

func TestReferenceFieldsSoftFiltering(t *testing.T) {
	c := NewCatalog(DefaultExclusions...)
	RegisterBuiltin(c)

	e, err := c.Lookup("system.audit_log")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	hard := e.ReferenceFields(false)
	for _, f := range hard {
		if f.Soft {
			t.Errorf("ReferenceFields(false) returned soft field %q", f.Name)
		}
	}
	all := e.ReferenceFields(true)
	if len(all) <= len(hard) {
		t.Errorf("ReferenceFields(true) = %d fields, want more than %d", len(all), len(hard))
	}
}
