// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package operations schedules backup, restore and purge runs. One
// operation per kind runs at a time; a second request of the same kind is
// rejected while the first is live. Triggers return an operation ID
// immediately and the work proceeds on a detached worker, observed only by
// polling progress.
package operations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/backup"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/metrics"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/purge"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/restore"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// RestoreRequest selects a stored backup file and the integrity policy for
// replaying it.
type RestoreRequest struct {
	BackupFile string `json:"backup_file" validate:"required"`
	Mode       string `json:"mode" validate:"omitempty,oneof=strict tolerant"`
	ClearFirst bool   `json:"clear_first"`

	// SubstituteArbitraryReference enables the tolerant-mode policy of
	// pointing unresolvable required references at an arbitrary existing
	// record. Off unless explicitly requested.
	SubstituteArbitraryReference bool `json:"substitute_arbitrary_reference"`
}

// BackupRequest selects the output format and an optional entity subset.
type BackupRequest struct {
	Format    string   `json:"format" validate:"omitempty,oneof=document tabular"`
	Selection []string `json:"selection"`
}

// PurgeRequest names the entity types to delete.
type PurgeRequest struct {
	Selection []string `json:"selection" validate:"required,min=1"`
}

// PurgeRejectedError carries the blockers of a rejected deletion plan.
type PurgeRejectedError struct {
	Rejected []purge.Blocked
}

func (e *PurgeRejectedError) Error() string {
	return fmt.Sprintf("purge plan rejected: %d entities blocked by external dependents", len(e.Rejected))
}

// Manager owns the workers and the retained result of the last run per
// kind.
type Manager struct {
	store      store.Store
	catalog    *schema.Catalog
	serializer *backup.Serializer
	engine     *restore.Engine
	planner    *purge.Planner
	progress   *progress.Store
	repo       *backup.Repository

	mu          sync.RWMutex
	lastBackup  *BackupResult
	lastRestore *restore.Report
	lastPurge   *purge.Report
}

// BackupResult is the retained outcome of a finished backup.
type BackupResult struct {
	OperationID string          `json:"operation_id"`
	File        string          `json:"file"`
	Format      backup.Format   `json:"format"`
	Metadata    backup.Metadata `json:"metadata"`
}

// NewManager wires the operation scheduler.
func NewManager(st store.Store, catalog *schema.Catalog, serializer *backup.Serializer, engine *restore.Engine, planner *purge.Planner, prog *progress.Store, repo *backup.Repository) *Manager {
	return &Manager{
		store:      st,
		catalog:    catalog,
		serializer: serializer,
		engine:     engine,
		planner:    planner,
		progress:   prog,
		repo:       repo,
	}
}

// StartBackup schedules a backup and returns its operation ID.
func (m *Manager) StartBackup(req BackupRequest) (string, error) {
	format, err := backup.ParseFormat(req.Format)
	if err != nil {
		return "", err
	}
	opID := uuid.NewString()
	handle, err := m.progress.Begin(progress.KindBackup, opID)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(string(progress.KindBackup)).Inc()
		return "", err
	}
	metrics.OperationsStarted.WithLabelValues(string(progress.KindBackup)).Inc()

	go m.runBackup(handle, opID, format, req.Selection)
	return opID, nil
}

func (m *Manager) runBackup(handle *progress.Handle, opID string, format backup.Format, selection []string) {
	ctx := logging.ContextWithCorrelationID(context.Background(), opID)
	started := time.Now()
	log := logging.Ctx(ctx)
	log.Info().Str("format", string(format)).Msg("backup started")

	doc, err := m.serializer.Run(ctx, selection, handle)
	if err != nil {
		m.finishError(progress.KindBackup, handle, err, started)
		return
	}

	handle.Update(func(st *progress.State) {
		st.Status = progress.StatusSaving
		st.Label = "Writing backup file"
	})
	name, err := m.repo.Save(doc, format, m.catalog, time.Now())
	if err != nil {
		m.finishError(progress.KindBackup, handle, err, started)
		return
	}

	m.mu.Lock()
	m.lastBackup = &BackupResult{OperationID: opID, File: name, Format: format, Metadata: doc.Metadata}
	m.mu.Unlock()

	m.finishOK(progress.KindBackup, handle, "Backup saved as "+name, doc.Metadata.RecordCount, started)
	log.Info().Str("file", name).Int64("records", doc.Metadata.RecordCount).Msg("backup finished")
}

// StartRestore schedules a restore of a stored backup file.
func (m *Manager) StartRestore(req RestoreRequest) (string, error) {
	mode, err := codec.ParseMode(req.Mode)
	if err != nil {
		return "", err
	}
	if _, err := m.repo.Stat(req.BackupFile); err != nil {
		return "", err
	}

	opID := uuid.NewString()
	handle, err := m.progress.Begin(progress.KindRestore, opID)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(string(progress.KindRestore)).Inc()
		return "", err
	}
	metrics.OperationsStarted.WithLabelValues(string(progress.KindRestore)).Inc()

	opts := restore.Options{
		Mode:                         mode,
		ClearFirst:                   req.ClearFirst,
		SubstituteArbitraryReference: req.SubstituteArbitraryReference,
	}
	go m.runRestore(handle, opID, req.BackupFile, opts)
	return opID, nil
}

func (m *Manager) runRestore(handle *progress.Handle, opID, file string, opts restore.Options) {
	ctx := logging.ContextWithCorrelationID(context.Background(), opID)
	started := time.Now()
	log := logging.Ctx(ctx)
	log.Info().Str("file", file).Str("mode", opts.Mode.String()).Msg("restore started")

	handle.Update(func(st *progress.State) {
		st.Status = progress.StatusAnalyzing
		st.Label = "Reading " + file
	})
	doc, warnings, err := m.repo.Open(file, m.catalog)
	if err != nil {
		m.finishError(progress.KindRestore, handle, err, started)
		return
	}
	if len(warnings) > 0 {
		handle.Update(func(st *progress.State) {
			st.Warnings = append(st.Warnings, warnings...)
		})
	}

	report, err := m.engine.Run(ctx, doc, opts, handle)
	if report != nil {
		report.Warnings = append(warnings, report.Warnings...)
		m.mu.Lock()
		m.lastRestore = report
		m.mu.Unlock()
	}
	if err != nil {
		m.finishError(progress.KindRestore, handle, err, started)
		return
	}

	label := fmt.Sprintf("Restored %d of %d records", report.Restored, report.TotalExpected)
	m.finishOK(progress.KindRestore, handle, label, int64(report.Restored), started)
	log.Info().Int("restored", report.Restored).Int("skipped", report.Skipped).Msg("restore finished")
}

// StartPurge plans the deletion synchronously and schedules execution. A
// rejected plan returns *PurgeRejectedError and starts nothing.
func (m *Manager) StartPurge(req PurgeRequest) (string, error) {
	plan, err := m.planner.Plan(req.Selection)
	if err != nil {
		return "", err
	}
	if !plan.Accepted() {
		return "", &PurgeRejectedError{Rejected: plan.Rejected}
	}

	opID := uuid.NewString()
	handle, err := m.progress.Begin(progress.KindPurge, opID)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(string(progress.KindPurge)).Inc()
		return "", err
	}
	metrics.OperationsStarted.WithLabelValues(string(progress.KindPurge)).Inc()

	go m.runPurge(handle, opID, plan)
	return opID, nil
}

func (m *Manager) runPurge(handle *progress.Handle, opID string, plan *purge.Plan) {
	ctx := logging.ContextWithCorrelationID(context.Background(), opID)
	started := time.Now()
	log := logging.Ctx(ctx)
	log.Info().Strs("expanded", plan.Expanded).Msg("purge started")

	report, err := m.planner.Execute(ctx, plan, handle)
	if err != nil {
		m.finishError(progress.KindPurge, handle, err, started)
		return
	}

	m.mu.Lock()
	m.lastPurge = report
	m.mu.Unlock()

	label := fmt.Sprintf("Deleted %d records across %d entities", report.Deleted, len(report.PerEntity))
	m.finishOK(progress.KindPurge, handle, label, report.Deleted, started)
	log.Info().Int64("deleted", report.Deleted).Msg("purge finished")
}

func (m *Manager) finishOK(kind progress.Kind, handle *progress.Handle, label string, records int64, started time.Time) {
	handle.Complete(label)
	metrics.OperationsCompleted.WithLabelValues(string(kind)).Inc()
	metrics.RecordsProcessed.WithLabelValues(string(kind)).Add(float64(records))
	metrics.OperationDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
}

func (m *Manager) finishError(kind progress.Kind, handle *progress.Handle, err error, started time.Time) {
	logging.Err(err).Str("kind", string(kind)).Msg("operation failed")
	handle.Fail(err)
	metrics.OperationsFailed.WithLabelValues(string(kind)).Inc()
	metrics.OperationDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
}

// Progress returns the current state for one operation kind.
func (m *Manager) Progress(kind progress.Kind) progress.State {
	return m.progress.Get(kind)
}

// ListDeletableEntities lists purgeable entity types with dependents.
func (m *Manager) ListDeletableEntities(ctx context.Context) ([]purge.DeletableEntity, error) {
	return m.planner.ListDeletable(ctx)
}

// ListBackups lists stored backup files, newest first.
func (m *Manager) ListBackups() ([]backup.FileInfo, error) {
	return m.repo.List()
}

// LastBackup returns the retained result of the most recent finished
// backup, or nil.
func (m *Manager) LastBackup() *BackupResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBackup
}

// LastRestore returns the most recent restore report, or nil.
func (m *Manager) LastRestore() *restore.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRestore
}

// LastPurge returns the most recent purge report, or nil.
func (m *Manager) LastPurge() *purge.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPurge
}
