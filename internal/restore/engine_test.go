// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package restore

import (
	"context"
	"errors"
	"testing"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/backup"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c := schema.NewCatalog(schema.DefaultExclusions...)
	schema.RegisterBuiltin(c)
	if bad := c.Validate(); len(bad) != 0 {
		t.Fatalf("Validate() = %v", bad)
	}
	return c
}

// sampleDocument holds a customer, two tags and an invoice that references
// all three. The invoice set is listed first to exercise restoration
// ordering.
func sampleDocument() *backup.Document {
	return &backup.Document{
		Metadata: backup.Metadata{Name: "test", RecordCount: 4, FormatVersion: backup.FormatVersion},
		Entities: []backup.EntitySet{
			{
				Entity: "sales.invoice",
				Records: []codec.PortableRecord{
					{
						Model: "sales.invoice",
						PK:    float64(7),
						Fields: map[string]any{
							"number":     "INV-7",
							"customer":   float64(1),
							"issue_date": "2026-03-01",
							"total":      "12.50",
							"posted":     true,
							"tags":       []any{float64(1), float64(2)},
							"created_at": "2026-03-01T09:00:00Z",
						},
					},
				},
			},
			{
				Entity: "parties.customer",
				Records: []codec.PortableRecord{
					{Model: "parties.customer", PK: float64(1), Fields: map[string]any{"name": "ACME"}},
				},
			},
			{
				Entity: "crm.tag",
				Records: []codec.PortableRecord{
					{Model: "crm.tag", PK: float64(1), Fields: map[string]any{"name": "vip"}},
					{Model: "crm.tag", PK: float64(2), Fields: map[string]any{"name": "export"}},
				},
			},
		},
	}
}

func TestRunRestoresDocument(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)
	ctx := context.Background()

	report, err := e.Run(ctx, sampleDocument(), Options{Mode: codec.Strict}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Restored != 4 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = restored %d skipped %d failed %d", report.Restored, report.Skipped, report.Failed)
	}
	if report.TotalExpected != 4 {
		t.Errorf("TotalExpected = %d", report.TotalExpected)
	}

	rec, ok, err := m.Get(ctx, "sales.invoice", int64(7))
	if err != nil || !ok {
		t.Fatalf("Get(invoice 7) = %v, %v", ok, err)
	}
	if rec.Fields["number"] != "INV-7" {
		t.Errorf("number = %v", rec.Fields["number"])
	}
	// The reference set is applied in the deferred pass.
	tags, isList := rec.Fields["tags"].([]any)
	if !isList || len(tags) != 2 {
		t.Errorf("tags = %v", rec.Fields["tags"])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		report, err := e.Run(ctx, sampleDocument(), Options{Mode: codec.Strict}, nil)
		if err != nil {
			t.Fatalf("run %d: error = %v", run, err)
		}
		if report.Restored != 4 {
			t.Errorf("run %d: restored = %d", run, report.Restored)
		}
	}
	n, err := m.Count(ctx, "crm.tag")
	if err != nil || n != 2 {
		t.Errorf("Count(crm.tag) = %d, %v after two runs", n, err)
	}
}

func brokenDocument() *backup.Document {
	doc := sampleDocument()
	// Point the invoice at a customer the document does not carry.
	doc.Entities[0].Records[0].Fields["customer"] = float64(99)
	return doc
}

func TestRunStrictAbortsOnUnresolvedReference(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)

	report, err := e.Run(context.Background(), brokenDocument(), Options{Mode: codec.Strict}, nil)
	if err == nil {
		t.Fatal("Run() should fail in strict mode")
	}
	if !errors.Is(err, codec.ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d", report.Failed)
	}
}

func TestRunTolerantSkipsBrokenRecord(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)
	ctx := context.Background()

	report, err := e.Run(ctx, brokenDocument(), Options{Mode: codec.Tolerant}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Restored != 3 || report.Skipped != 1 {
		t.Errorf("report = restored %d skipped %d", report.Restored, report.Skipped)
	}
	if len(report.Warnings) == 0 {
		t.Error("skipping a record must leave a warning")
	}
	if _, ok, _ := m.Get(ctx, "sales.invoice", int64(7)); ok {
		t.Error("broken invoice should not be stored")
	}
}

func TestRunTolerantSubstitutesReference(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)
	ctx := context.Background()

	opts := Options{Mode: codec.Tolerant, SubstituteArbitraryReference: true}
	report, err := e.Run(ctx, brokenDocument(), opts, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Restored != 4 || report.Skipped != 0 {
		t.Errorf("report = restored %d skipped %d", report.Restored, report.Skipped)
	}
	rec, ok, _ := m.Get(ctx, "sales.invoice", int64(7))
	if !ok {
		t.Fatal("invoice should be restored with a substituted customer")
	}
	if rec.Fields["customer"] != int64(1) {
		t.Errorf("customer = %v, want the only existing customer", rec.Fields["customer"])
	}
}

func TestRunResolvesForwardReferenceWithinDocument(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	e := NewEngine(m, catalog, nil)
	ctx := context.Background()

	// The child row precedes its parent inside the same entity set, so the
	// parent reference can only resolve after every primary record exists.
	doc := &backup.Document{
		Metadata: backup.Metadata{Name: "fwd", RecordCount: 2, FormatVersion: backup.FormatVersion},
		Entities: []backup.EntitySet{
			{
				Entity: "inventory.category",
				Records: []codec.PortableRecord{
					{Model: "inventory.category", PK: float64(1), Fields: map[string]any{"name": "Sodas", "parent": float64(2)}},
					{Model: "inventory.category", PK: float64(2), Fields: map[string]any{"name": "Drinks", "parent": nil}},
				},
			},
		},
	}

	report, err := e.Run(ctx, doc, Options{Mode: codec.Strict}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Restored != 2 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("report = restored %d skipped %d failed %d", report.Restored, report.Skipped, report.Failed)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("forward reference must not warn, warnings = %v", report.Warnings)
	}

	child, ok, err := m.Get(ctx, "inventory.category", int64(1))
	if err != nil || !ok {
		t.Fatalf("Get(category 1) = %v, %v", ok, err)
	}
	if child.Fields["parent"] != int64(2) {
		t.Errorf("parent = %v, want 2", child.Fields["parent"])
	}
}

func unknownEntityDocument() *backup.Document {
	doc := sampleDocument()
	doc.Entities = append(doc.Entities, backup.EntitySet{
		Entity: "legacy.widget",
		Records: []codec.PortableRecord{
			{Model: "legacy.widget", PK: float64(1), Fields: map[string]any{"name": "gizmo"}},
		},
	})
	return doc
}

func TestRunUnknownEntity(t *testing.T) {
	catalog := testCatalog(t)

	t.Run("tolerant skips", func(t *testing.T) {
		e := NewEngine(store.NewMemory(catalog), catalog, nil)
		report, err := e.Run(context.Background(), unknownEntityDocument(), Options{Mode: codec.Tolerant}, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Skipped != 1 || report.Restored != 4 {
			t.Errorf("report = restored %d skipped %d", report.Restored, report.Skipped)
		}
	})

	t.Run("strict aborts", func(t *testing.T) {
		e := NewEngine(store.NewMemory(catalog), catalog, nil)
		report, err := e.Run(context.Background(), unknownEntityDocument(), Options{Mode: codec.Strict}, nil)
		if err == nil {
			t.Fatal("Run() should fail on an unknown entity type in strict mode")
		}
		if report.Failed != 1 {
			t.Errorf("Failed = %d", report.Failed)
		}
	})
}

type stubClearer struct {
	cleared []string
	err     error
}

func (c *stubClearer) Clear(ctx context.Context, entities []string) error {
	c.cleared = append(c.cleared, entities...)
	return c.err
}

func TestRunClearFirst(t *testing.T) {
	catalog := testCatalog(t)
	m := store.NewMemory(catalog)
	clearer := &stubClearer{}
	e := NewEngine(m, catalog, clearer)

	_, err := e.Run(context.Background(), sampleDocument(), Options{Mode: codec.Strict, ClearFirst: true}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(clearer.cleared) != 3 {
		t.Errorf("cleared = %v, want the document's three entity types", clearer.cleared)
	}
}

func TestRunClearFirstWithoutClearer(t *testing.T) {
	catalog := testCatalog(t)
	e := NewEngine(store.NewMemory(catalog), catalog, nil)

	if _, err := e.Run(context.Background(), sampleDocument(), Options{ClearFirst: true}, nil); err == nil {
		t.Error("Run() with ClearFirst and no clearer should fail")
	}
}

func TestRunClearFirstPropagatesError(t *testing.T) {
	catalog := testCatalog(t)
	clearer := &stubClearer{err: errors.New("locked")}
	e := NewEngine(store.NewMemory(catalog), catalog, clearer)

	report, err := e.Run(context.Background(), sampleDocument(), Options{ClearFirst: true}, nil)
	if err == nil {
		t.Fatal("Run() should propagate the clear error")
	}
	if len(report.Errors) == 0 {
		t.Error("clear failure must be recorded in the report")
	}
}

func TestRestorationOrder(t *testing.T) {
	catalog := testCatalog(t)
	e := NewEngine(store.NewMemory(catalog), catalog, nil)

	ordered := e.restorationOrder(unknownEntityDocument())
	pos := make(map[string]int, len(ordered))
	for i, es := range ordered {
		pos[es.Entity] = i
	}
	if pos["parties.customer"] > pos["sales.invoice"] {
		t.Error("customers must be restored before invoices")
	}
	if pos["crm.tag"] > pos["sales.invoice"] {
		t.Error("tags must be restored before invoices")
	}
	if pos["legacy.widget"] != len(ordered)-1 {
		t.Error("unknown entity types go last")
	}
}
