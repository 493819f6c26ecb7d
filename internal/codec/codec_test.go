// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package codec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// mockResolver is a hand-rolled resolver over fixed key sets.
type mockResolver struct {
	existing map[string]map[string]bool // entity -> pk string -> present
	anyPK    map[string]any
}

func (m *mockResolver) Exists(_ context.Context, entity string, pk any) (bool, error) {
	return m.existing[entity][store.KeyString(pk)], nil
}

func (m *mockResolver) AnyPK(_ context.Context, entity string) (any, bool, error) {
	pk, ok := m.anyPK[entity]
	return pk, ok, nil
}

func invoiceEntity() *schema.EntityType {
	return &schema.EntityType{
		Namespace:      "sales",
		Name:           "invoice",
		PrimaryKey:     "id",
		PrimaryKeyKind: schema.KindInteger,
		Persistent:     true,
		Fields: []schema.FieldDescriptor{
			{Name: "number", Kind: schema.KindText},
			{Name: "customer", Kind: schema.KindReference, Target: "parties.customer"},
			{Name: "created_by", Kind: schema.KindReference, Target: "auth.user", Nullable: true},
			{Name: "issue_date", Kind: schema.KindDate},
			{Name: "issue_time", Kind: schema.KindTime, Nullable: true},
			{Name: "total", Kind: schema.KindDecimal},
			{Name: "posted", Kind: schema.KindBoolean},
			{Name: "tags", Kind: schema.KindReferenceSet, Target: "crm.tag", Nullable: true},
			{Name: "created_at", Kind: schema.KindTimestamp},
		},
	}
}

func TestToPortableConvertsEveryKind(t *testing.T) {
	e := invoiceEntity()
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := store.Record{
		PK: int64(7),
		Fields: map[string]any{
			"number":     "INV-0007",
			"customer":   int64(3),
			"issue_date": time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			"issue_time": "09:30:00",
			"total":      decimal.RequireFromString("1234.56"),
			"posted":     true,
			"tags":       []any{int64(1), int64(2)},
			"created_at": created,
		},
	}

	pr, warnings := ToPortable(e, rec)
	if len(warnings) != 0 {
		t.Fatalf("ToPortable() warnings = %v", warnings)
	}
	if pr.Model != "sales.invoice" {
		t.Errorf("Model = %q", pr.Model)
	}
	if pr.PK != float64(7) {
		t.Errorf("PK = %v (%T), want 7", pr.PK, pr.PK)
	}
	if pr.Fields["total"] != "1234.56" {
		t.Errorf("total = %v, decimals must serialize as exact strings", pr.Fields["total"])
	}
	if pr.Fields["issue_date"] != "2026-03-14" {
		t.Errorf("issue_date = %v", pr.Fields["issue_date"])
	}
	if pr.Fields["created_at"] != created.Format(time.RFC3339) {
		t.Errorf("created_at = %v", pr.Fields["created_at"])
	}
	if pr.Fields["posted"] != true {
		t.Errorf("posted = %v", pr.Fields["posted"])
	}
	tags, ok := pr.Fields["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != float64(1) {
		t.Errorf("tags = %v", pr.Fields["tags"])
	}
}

func TestToPortableDegradesPerField(t *testing.T) {
	e := invoiceEntity()
	rec := store.Record{
		PK: int64(8),
		Fields: map[string]any{
			"number": "INV-0008",
			"total":  "not-a-decimal-value", // wrong native type
			"posted": false,
		},
	}

	pr, warnings := ToPortable(e, rec)
	if len(warnings) != 1 {
		t.Fatalf("ToPortable() warnings = %v, want exactly 1", warnings)
	}
	if warnings[0].Field != "total" {
		t.Errorf("warning field = %q", warnings[0].Field)
	}
	if pr.Fields["total"] != nil {
		t.Errorf("failed field should be null, got %v", pr.Fields["total"])
	}
	if pr.Fields["number"] != "INV-0008" {
		t.Errorf("healthy fields must survive, number = %v", pr.Fields["number"])
	}
}

func TestRoundTripExactness(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{
		"parties.customer": {"3": true},
		"crm.tag":          {"1": true, "2": true},
	}}

	created := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	original := store.Record{
		PK: int64(7),
		Fields: map[string]any{
			"number":     "INV-0007",
			"customer":   int64(3),
			"issue_date": time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			"issue_time": "09:30:00",
			"total":      decimal.RequireFromString("99999.99"),
			"posted":     true,
			"tags":       []any{int64(1), int64(2)},
			"created_at": created,
		},
	}

	pr, warnings := ToPortable(e, original)
	if len(warnings) != 0 {
		t.Fatalf("ToPortable() warnings = %v", warnings)
	}
	back, deferred, warnings, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Strict})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("FromPortable() warnings = %v", warnings)
	}

	if back.PK != int64(7) {
		t.Errorf("PK = %v (%T)", back.PK, back.PK)
	}
	if got := back.Fields["total"].(decimal.Decimal); !got.Equal(original.Fields["total"].(decimal.Decimal)) {
		t.Errorf("total = %v, decimal round trip must be exact", got)
	}
	if !back.Fields["issue_date"].(time.Time).Equal(original.Fields["issue_date"].(time.Time)) {
		t.Errorf("issue_date = %v", back.Fields["issue_date"])
	}
	if !back.Fields["created_at"].(time.Time).Equal(created) {
		t.Errorf("created_at = %v", back.Fields["created_at"])
	}
	if back.Fields["issue_time"] != "09:30:00" {
		t.Errorf("issue_time = %v", back.Fields["issue_time"])
	}
	if back.Fields["customer"] != int64(3) {
		t.Errorf("customer = %v (%T)", back.Fields["customer"], back.Fields["customer"])
	}
	if len(deferred.Sets["tags"]) != 2 || deferred.Sets["tags"][0] != int64(1) {
		t.Errorf("tags refset = %v", deferred.Sets["tags"])
	}
	if _, inRecord := back.Fields["tags"]; inRecord {
		t.Error("reference sets must be returned separately, not inside the record")
	}
}

func TestFromPortableStrictUnresolvedReference(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{}}
	pr := PortableRecord{
		Model: "sales.invoice",
		PK:    float64(1),
		Fields: map[string]any{
			"customer": float64(99),
		},
	}

	_, _, _, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Strict})
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("FromPortable() error = %v, want ErrUnresolvedReference", err)
	}
}

func TestFromPortableTolerantSubstitution(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{
		existing: map[string]map[string]bool{},
		anyPK:    map[string]any{"parties.customer": int64(5)},
	}
	pr := PortableRecord{
		Model:  "sales.invoice",
		PK:     float64(1),
		Fields: map[string]any{"customer": float64(99)},
	}

	// Substitution only when explicitly opted in.
	rec, _, warnings, err := FromPortable(context.Background(), e, pr, resolver,
		Options{Mode: Tolerant, SubstituteArbitraryReference: true})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if rec.Fields["customer"] != int64(5) {
		t.Errorf("customer = %v, want substituted pk 5", rec.Fields["customer"])
	}
	if len(warnings) != 1 {
		t.Errorf("substitution must be logged, warnings = %v", warnings)
	}

	// Without the opt-in a broken required reference fails the record even
	// in tolerant mode; the caller turns that into a per-record skip.
	_, _, _, err = FromPortable(context.Background(), e, pr, resolver, Options{Mode: Tolerant})
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("FromPortable() error = %v, want ErrUnresolvedReference", err)
	}
}

func TestFromPortableTolerantClearsNullableReference(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{}}
	pr := PortableRecord{
		Model:  "sales.invoice",
		PK:     float64(1),
		Fields: map[string]any{"created_by": float64(42)},
	}

	rec, _, warnings, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Tolerant})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if v, set := rec.Fields["created_by"]; !set || v != nil {
		t.Errorf("created_by = %v, want explicit null", rec.Fields["created_by"])
	}
	if len(warnings) != 1 {
		t.Errorf("clearing must warn, warnings = %v", warnings)
	}
}

func TestFromPortableTolerantDropsMissingSetMembers(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{
		"crm.tag": {"1": true},
	}}
	pr := PortableRecord{
		Model:  "sales.invoice",
		PK:     float64(1),
		Fields: map[string]any{"tags": []any{float64(1), float64(2)}},
	}

	_, deferred, warnings, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Tolerant})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if len(deferred.Sets["tags"]) != 1 || deferred.Sets["tags"][0] != int64(1) {
		t.Errorf("tags = %v, missing member should be dropped", deferred.Sets["tags"])
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestFromPortableDefersPendingReferences(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{}}
	pendingCustomers := map[string]bool{"3": true}
	opts := Options{
		Mode: Strict,
		PendingTarget: func(entity string, pk any) bool {
			return entity == "parties.customer" && pendingCustomers[store.KeyString(pk)]
		},
	}
	pr := PortableRecord{
		Model:  "sales.invoice",
		PK:     float64(1),
		Fields: map[string]any{"customer": float64(3)},
	}

	rec, deferred, warnings, err := FromPortable(context.Background(), e, pr, resolver, opts)
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("deferral must not warn, warnings = %v", warnings)
	}
	if _, set := rec.Fields["customer"]; set {
		t.Error("pending reference must not be stored with the primary record")
	}
	if deferred.Singles["customer"] != int64(3) {
		t.Errorf("deferred customer = %v, want 3", deferred.Singles["customer"])
	}
	if deferred.Empty() {
		t.Error("Empty() = true with a deferred single reference")
	}
}

func TestFromPortableUnknownFieldDropped(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{}}
	pr := PortableRecord{
		Model:  "sales.invoice",
		PK:     float64(1),
		Fields: map[string]any{"number": "INV-1", "legacy_column": "x"},
	}

	rec, _, warnings, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Tolerant})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if _, set := rec.Fields["legacy_column"]; set {
		t.Error("unknown field must not reach the record")
	}
	if len(warnings) != 1 {
		t.Errorf("dropping an unknown field must warn, warnings = %v", warnings)
	}
}

func TestFromPortableWorkbookStrings(t *testing.T) {
	e := invoiceEntity()
	resolver := &mockResolver{existing: map[string]map[string]bool{
		"parties.customer": {"3": true},
	}}
	pr := PortableRecord{
		Model: "sales.invoice",
		PK:    "7",
		Fields: map[string]any{
			"number":     "INV-0007",
			"customer":   "3",
			"issue_date": "2026-01-02",
			"total":      "12.50",
			"posted":     "true",
			"created_at": "2026-01-02T15:04:05Z",
		},
	}

	rec, _, warnings, err := FromPortable(context.Background(), e, pr, resolver, Options{Mode: Strict})
	if err != nil {
		t.Fatalf("FromPortable() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if rec.PK != int64(7) {
		t.Errorf("PK = %v (%T), workbook keys must normalize", rec.PK, rec.PK)
	}
	if got := rec.Fields["total"].(decimal.Decimal); got.String() != "12.5" {
		t.Errorf("total = %v", got)
	}
	if rec.Fields["posted"] != true {
		t.Errorf("posted = %v", rec.Fields["posted"])
	}
	if rec.Fields["customer"] != int64(3) {
		t.Errorf("customer = %v (%T)", rec.Fields["customer"], rec.Fields["customer"])
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"strict", Strict, false},
		{"tolerant", Tolerant, false},
		{"", Tolerant, false},
		{"STRICT", Strict, false},
		{"lenient", Tolerant, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
