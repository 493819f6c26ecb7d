// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package depgraph

import (
	"testing"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// testCatalog builds a small catalog:
//
//	shop.product  -> shop.category
//	shop.item     -> shop.product, shop.order
//	shop.order    -> (none)
//	shop.category -> shop.category (self reference)
func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c := schema.NewCatalog()
	register := func(ns, name string, fields ...schema.FieldDescriptor) {
		t.Helper()
		err := c.Register(&schema.EntityType{
			Namespace:      ns,
			Name:           name,
			PrimaryKey:     "id",
			PrimaryKeyKind: schema.KindInteger,
			Persistent:     true,
			Fields:         fields,
		})
		if err != nil {
			t.Fatalf("Register(%s.%s) error = %v", ns, name, err)
		}
	}

	register("shop", "category",
		schema.FieldDescriptor{Name: "parent", Kind: schema.KindReference, Target: "shop.category", Nullable: true})
	register("shop", "product",
		schema.FieldDescriptor{Name: "category", Kind: schema.KindReference, Target: "shop.category"})
	register("shop", "order")
	register("shop", "item",
		schema.FieldDescriptor{Name: "product", Kind: schema.KindReference, Target: "shop.product"},
		schema.FieldDescriptor{Name: "order", Kind: schema.KindReference, Target: "shop.order"})
	return c
}

func TestDependents(t *testing.T) {
	g := Build(testCatalog(t))

	tests := []struct {
		entity string
		want   []string
	}{
		{"shop.category", []string{"shop.product"}},
		{"shop.product", []string{"shop.item"}},
		{"shop.order", []string{"shop.item"}},
		{"shop.item", nil},
	}
	for _, tt := range tests {
		got := g.Dependents(tt.entity)
		if !equalStrings(got, tt.want) {
			t.Errorf("Dependents(%s) = %v, want %v", tt.entity, got, tt.want)
		}
	}
}

func TestClosureFixedPoint(t *testing.T) {
	g := Build(testCatalog(t))

	got := g.Closure([]string{"shop.category"})
	want := []string{"shop.category", "shop.item", "shop.product"}
	if len(got) != len(want) {
		t.Fatalf("Closure() = %v, want %v", got, want)
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("Closure() missing %s", name)
		}
	}
}

func TestPostOrderDependentsFirst(t *testing.T) {
	g := Build(testCatalog(t))

	set := g.Closure([]string{"shop.category", "shop.order"})
	order := g.PostOrder(set)
	if len(order) != len(set) {
		t.Fatalf("PostOrder() emitted %d entities, want %d", len(order), len(set))
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	// Every dependent must be deleted before its target.
	deps := map[string]string{
		"shop.item":    "shop.product",
		"shop.product": "shop.category",
	}
	for dependent, target := range deps {
		if pos[dependent] > pos[target] {
			t.Errorf("PostOrder() places %s after %s: %v", dependent, target, order)
		}
	}
}

func TestPostOrderSelfReferenceDoesNotLoop(t *testing.T) {
	g := Build(testCatalog(t))
	order := g.PostOrder(map[string]bool{"shop.category": true})
	if len(order) != 1 || order[0] != "shop.category" {
		t.Errorf("PostOrder(self-referential) = %v", order)
	}
}

func TestCyclesIgnoreSelfReferences(t *testing.T) {
	g := Build(testCatalog(t))
	set := g.Closure([]string{"shop.category"})
	if cycles := g.Cycles(set); len(cycles) != 0 {
		t.Errorf("Cycles() = %v, self references are not cycles", cycles)
	}
}

func TestGenuineCycleDetectedAndFieldsNamed(t *testing.T) {
	c := schema.NewCatalog()
	entities := []*schema.EntityType{
		{
			Namespace: "a", Name: "left", PrimaryKey: "id", PrimaryKeyKind: schema.KindInteger, Persistent: true,
			Fields: []schema.FieldDescriptor{
				{Name: "right", Kind: schema.KindReference, Target: "a.right", Nullable: true},
			},
		},
		{
			Namespace: "a", Name: "right", PrimaryKey: "id", PrimaryKeyKind: schema.KindInteger, Persistent: true,
			Fields: []schema.FieldDescriptor{
				{Name: "left", Kind: schema.KindReference, Target: "a.left", Nullable: true},
			},
		},
	}
	for _, e := range entities {
		if err := c.Register(e); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	g := Build(c)
	set := map[string]bool{"a.left": true, "a.right": true}
	cycles := g.Cycles(set)
	if len(cycles) != 1 {
		t.Fatalf("Cycles() found %d cycles, want 1", len(cycles))
	}

	fields := CyclicFields(c, cycles)
	if len(fields["a.left"]) != 1 || fields["a.left"][0] != "right" {
		t.Errorf("CyclicFields()[a.left] = %v, want [right]", fields["a.left"])
	}
	if len(fields["a.right"]) != 1 || fields["a.right"][0] != "left" {
		t.Errorf("CyclicFields()[a.right] = %v, want [left]", fields["a.right"])
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
