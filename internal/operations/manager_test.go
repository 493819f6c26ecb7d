// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package operations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/backup"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/purge"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/restore"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

type testHarness struct {
	manager  *Manager
	store    *store.Memory
	progress *progress.Store
}

func newHarness(t *testing.T, catalog *schema.Catalog) *testHarness {
	t.Helper()
	m := store.NewMemory(catalog)
	prog := progress.NewStore(0, 0)
	repo, err := backup.NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	serializer := backup.NewSerializer(m, catalog, backup.SerializerConfig{})
	planner := purge.NewPlanner(m, catalog)
	engine := restore.NewEngine(m, catalog, planner)
	return &testHarness{
		manager:  NewManager(m, catalog, serializer, engine, planner, prog, repo),
		store:    m,
		progress: prog,
	}
}

func builtinCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c := schema.NewCatalog(schema.DefaultExclusions...)
	schema.RegisterBuiltin(c)
	if bad := c.Validate(); len(bad) != 0 {
		t.Fatalf("Validate() = %v", bad)
	}
	return c
}

// waitIdle polls until the operation of the kind finishes.
func waitIdle(t *testing.T, h *testHarness, kind progress.Kind) progress.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := h.manager.Progress(kind)
		if !st.Running {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not finish in time", kind)
	return progress.State{}
}

func seed(t *testing.T, h *testHarness) {
	t.Helper()
	ctx := context.Background()
	records := []struct {
		entity string
		rec    store.Record
	}{
		{"parties.customer", store.Record{PK: int64(1), Fields: map[string]any{"name": "ACME"}}},
		{"inventory.category", store.Record{PK: int64(1), Fields: map[string]any{"name": "Drinks"}}},
		{"inventory.product", store.Record{PK: int64(10), Fields: map[string]any{"name": "Cola", "sku": "C1", "category": int64(1)}}},
	}
	for _, r := range records {
		if err := h.store.Upsert(ctx, r.entity, r.rec); err != nil {
			t.Fatalf("Upsert(%s) error = %v", r.entity, err)
		}
	}
}

func TestBackupThenRestore(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))
	seed(t, h)

	opID, err := h.manager.StartBackup(BackupRequest{Format: "document"})
	if err != nil {
		t.Fatalf("StartBackup() error = %v", err)
	}
	if opID == "" {
		t.Fatal("StartBackup() returned an empty operation ID")
	}

	st := waitIdle(t, h, progress.KindBackup)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("backup status = %s, error %q", st.Status, st.Error)
	}

	last := h.manager.LastBackup()
	if last == nil || last.OperationID != opID {
		t.Fatalf("LastBackup() = %+v", last)
	}
	if last.Metadata.RecordCount != 3 {
		t.Errorf("RecordCount = %d", last.Metadata.RecordCount)
	}

	files, err := h.manager.ListBackups()
	if err != nil || len(files) != 1 {
		t.Fatalf("ListBackups() = %v, %v", files, err)
	}

	// Restoring into the same store is an idempotent upsert.
	if _, err := h.manager.StartRestore(RestoreRequest{BackupFile: last.File, Mode: "strict"}); err != nil {
		t.Fatalf("StartRestore() error = %v", err)
	}
	st = waitIdle(t, h, progress.KindRestore)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("restore status = %s, error %q", st.Status, st.Error)
	}
	report := h.manager.LastRestore()
	if report == nil || report.Restored != 3 || report.Failed != 0 {
		t.Fatalf("LastRestore() = %+v", report)
	}
}

func TestStartBackupRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))

	// Claim the backup slot as if a run were live.
	if _, err := h.progress.Begin(progress.KindBackup, "other-op"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	_, err := h.manager.StartBackup(BackupRequest{})
	if !errors.Is(err, progress.ErrAlreadyRunning) {
		t.Errorf("StartBackup() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartBackupRejectsBadFormat(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))
	if _, err := h.manager.StartBackup(BackupRequest{Format: "parquet"}); err == nil {
		t.Error("StartBackup() with unknown format should fail")
	}
}

func TestStartRestoreRejectsMissingFile(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))
	if _, err := h.manager.StartRestore(RestoreRequest{BackupFile: "backup_nope.json"}); err == nil {
		t.Error("StartRestore() with a missing file should fail")
	}
	if _, err := h.manager.StartRestore(RestoreRequest{BackupFile: "x.json", Mode: "lenient"}); err == nil {
		t.Error("StartRestore() with an unknown mode should fail")
	}
}

func TestStartPurge(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))
	seed(t, h)

	if _, err := h.manager.StartPurge(PurgeRequest{Selection: []string{"inventory.category"}}); err != nil {
		t.Fatalf("StartPurge() error = %v", err)
	}
	st := waitIdle(t, h, progress.KindPurge)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("purge status = %s, error %q", st.Status, st.Error)
	}

	report := h.manager.LastPurge()
	if report == nil || report.Deleted != 2 {
		t.Fatalf("LastPurge() = %+v", report)
	}
	if n, _ := h.store.Count(context.Background(), "inventory.product"); n != 0 {
		t.Errorf("products remain after purge: %d", n)
	}
}

// rejectionCatalog pairs a deletable entity with an excluded dependent so a
// purge of it can never be accepted.
func rejectionCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c := schema.NewCatalog("ops.log")
	entities := []*schema.EntityType{
		{
			Namespace: "core", Name: "item",
			PrimaryKey: "id", PrimaryKeyKind: schema.KindInteger,
			Persistent: true,
			Fields: []schema.FieldDescriptor{
				{Name: "name", Kind: schema.KindText},
			},
		},
		{
			Namespace: "ops", Name: "log",
			PrimaryKey: "id", PrimaryKeyKind: schema.KindInteger,
			Persistent: true,
			Fields: []schema.FieldDescriptor{
				{Name: "item", Kind: schema.KindReference, Target: "core.item"},
			},
		},
	}
	for _, e := range entities {
		if err := c.Register(e); err != nil {
			t.Fatalf("Register(%s) error = %v", e.QualifiedName(), err)
		}
	}
	if bad := c.Validate(); len(bad) != 0 {
		t.Fatalf("Validate() = %v", bad)
	}
	return c
}

func TestStartPurgeRejectedPlan(t *testing.T) {
	h := newHarness(t, rejectionCatalog(t))

	_, err := h.manager.StartPurge(PurgeRequest{Selection: []string{"core.item"}})
	var rejected *PurgeRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("StartPurge() error = %v, want PurgeRejectedError", err)
	}
	if len(rejected.Rejected) != 1 || rejected.Rejected[0].Entity != "core.item" {
		t.Errorf("Rejected = %+v", rejected.Rejected)
	}
	// A rejected plan must not claim the purge slot.
	if h.manager.Progress(progress.KindPurge).Running {
		t.Error("purge slot claimed by a rejected plan")
	}
}

func TestListDeletableEntities(t *testing.T) {
	h := newHarness(t, builtinCatalog(t))
	list, err := h.manager.ListDeletableEntities(context.Background())
	if err != nil {
		t.Fatalf("ListDeletableEntities() error = %v", err)
	}
	if len(list) == 0 {
		t.Fatal("no deletable entities listed")
	}
}
