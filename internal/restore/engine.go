// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package restore replays a backup document into the record store with
// upsert semantics, in strict or tolerant integrity mode.
package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/backup"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// maxReportedIssues bounds the warning and error lists in a report.
const maxReportedIssues = 100

// bootstrapOrder lists foundational entity types restored before anything
// else when present in a document. Remaining entities follow in catalog
// order; deferred reference-set application makes this best-effort ordering
// sufficient.
var bootstrapOrder = []string{
	"auth.user",
	"parties.customer",
	"parties.supplier",
	"inventory.category",
	"crm.tag",
	"ledger.account",
}

// Clearer wipes the given entity types before a restore. Implemented by the
// deletion planner.
type Clearer interface {
	Clear(ctx context.Context, entities []string) error
}

// EntityReport is the per-entity breakdown of a restore.
type EntityReport struct {
	Entity   string `json:"entity"`
	Expected int    `json:"expected"`
	Restored int    `json:"restored"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Report summarizes one restore run.
type Report struct {
	TotalExpected   int            `json:"total_expected"`
	Restored        int            `json:"restored"`
	Skipped         int            `json:"skipped"`
	Failed          int            `json:"failed"`
	PerEntity       []EntityReport `json:"per_entity"`
	Warnings        []string       `json:"warnings,omitempty"`
	Errors          []string       `json:"errors,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
}

func (r *Report) warn(msg string) {
	if len(r.Warnings) < maxReportedIssues {
		r.Warnings = append(r.Warnings, msg)
	}
}

func (r *Report) fail(msg string) {
	if len(r.Errors) < maxReportedIssues {
		r.Errors = append(r.Errors, msg)
	}
}

// Options controls one restore run.
type Options struct {
	Mode       codec.Mode
	ClearFirst bool

	// SubstituteArbitraryReference opts into the tolerant-mode policy of
	// repointing an unresolvable required reference at an arbitrary
	// existing record instead of skipping the row. Off by default because
	// it silently changes data semantics.
	SubstituteArbitraryReference bool
}

// deferredRef is a reference field applied after every primary record
// exists, so forward references inside the document resolve. set is non-nil
// for multi-valued fields; otherwise target holds the single key.
type deferredRef struct {
	entity string
	pk     any
	field  string
	set    []any
	target any
}

// Engine restores backup documents.
type Engine struct {
	store   store.Store
	catalog *schema.Catalog
	clearer Clearer
}

// NewEngine wires a restore engine. clearer may be nil when ClearFirst is
// never used.
func NewEngine(st store.Store, catalog *schema.Catalog, clearer Clearer) *Engine {
	return &Engine{store: st, catalog: catalog, clearer: clearer}
}

// storeResolver adapts the store to the codec's reference lookups.
type storeResolver struct {
	store store.Store
}

func (r storeResolver) Exists(ctx context.Context, entity string, pk any) (bool, error) {
	_, ok, err := r.store.Get(ctx, entity, pk)
	return ok, err
}

func (r storeResolver) AnyPK(ctx context.Context, entity string) (any, bool, error) {
	return r.store.AnyPK(ctx, entity)
}

// Run restores the document. In strict mode the first blocking error aborts
// the run; in tolerant mode failing records are skipped and counted. The
// returned report is populated even when err is non-nil.
func (e *Engine) Run(ctx context.Context, doc *backup.Document, opts Options, handle *progress.Handle) (*Report, error) {
	started := time.Now()
	report := &Report{}
	defer func() { report.DurationSeconds = time.Since(started).Seconds() }()

	ordered := e.restorationOrder(doc)
	for _, es := range ordered {
		report.TotalExpected += len(es.Records)
	}

	if opts.ClearFirst {
		if err := e.clearExisting(ctx, doc, report, handle); err != nil {
			return report, err
		}
	}

	e.update(handle, func(st *progress.State) {
		st.Status = progress.StatusProcessing
		st.Total = int64(report.TotalExpected)
		st.Entities = make([]progress.EntityProgress, len(ordered))
		for i, es := range ordered {
			st.Entities[i] = progress.EntityProgress{
				Entity: es.Entity,
				State:  "pending",
				Total:  int64(len(es.Records)),
			}
		}
	})

	resolver := storeResolver{store: e.store}
	pending := e.pendingIndex(doc)
	codecOpts := codec.Options{
		Mode:                         opts.Mode,
		SubstituteArbitraryReference: opts.SubstituteArbitraryReference,
		PendingTarget: func(entity string, pk any) bool {
			return pending[entity][store.KeyString(pk)]
		},
	}

	var deferred []deferredRef
	var processed int64
	for i, es := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entReport, entDeferred, err := e.restoreEntity(ctx, es, resolver, codecOpts, report, handle, i, &processed)
		report.PerEntity = append(report.PerEntity, entReport)
		deferred = append(deferred, entDeferred...)
		if err != nil {
			return report, err
		}
	}

	e.applyDeferred(ctx, deferred, report, handle)

	logging.Ctx(ctx).Info().
		Int("restored", report.Restored).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("restore finished")
	return report, nil
}

// pendingIndex collects the primary keys the document will have restored by
// the time deferred references are applied, keyed by normalized form. A
// reference whose target is in this index points forward inside the
// document and must not be treated as broken.
func (e *Engine) pendingIndex(doc *backup.Document) map[string]map[string]bool {
	pending := make(map[string]map[string]bool, len(doc.Entities))
	for _, es := range doc.Entities {
		if _, err := e.catalog.Lookup(es.Entity); err != nil {
			continue
		}
		keys := make(map[string]bool, len(es.Records))
		for _, pr := range es.Records {
			if pr.PK != nil {
				keys[store.KeyString(pr.PK)] = true
			}
		}
		pending[es.Entity] = keys
	}
	return pending
}

// restorationOrder puts bootstrap entities first, then the rest of the
// document in catalog order, then any document entities unknown to the
// catalog (restoreEntity rejects or skips those as whole sets).
func (e *Engine) restorationOrder(doc *backup.Document) []backup.EntitySet {
	byName := make(map[string]backup.EntitySet, len(doc.Entities))
	for _, es := range doc.Entities {
		byName[es.Entity] = es
	}

	ordered := make([]backup.EntitySet, 0, len(doc.Entities))
	seen := make(map[string]bool, len(doc.Entities))
	take := func(name string) {
		if es, ok := byName[name]; ok && !seen[name] {
			ordered = append(ordered, es)
			seen[name] = true
		}
	}

	for _, name := range bootstrapOrder {
		take(name)
	}
	for _, et := range e.catalog.EntityTypes() {
		take(et.QualifiedName())
	}
	for _, es := range doc.Entities {
		take(es.Entity)
	}
	return ordered
}

func (e *Engine) clearExisting(ctx context.Context, doc *backup.Document, report *Report, handle *progress.Handle) error {
	if e.clearer == nil {
		return fmt.Errorf("restore: clear requested but no deletion planner wired")
	}
	e.update(handle, func(st *progress.State) {
		st.Status = progress.StatusPreparing
		st.Label = "Clearing existing records"
	})
	entities := make([]string, 0, len(doc.Entities))
	for _, es := range doc.Entities {
		if _, err := e.catalog.Lookup(es.Entity); err == nil {
			entities = append(entities, es.Entity)
		}
	}
	if err := e.clearer.Clear(ctx, entities); err != nil {
		report.fail(fmt.Sprintf("clear before restore: %v", err))
		return fmt.Errorf("restore: clear: %w", err)
	}
	return nil
}

func (e *Engine) restoreEntity(ctx context.Context, es backup.EntitySet, resolver codec.Resolver, codecOpts codec.Options, report *Report, handle *progress.Handle, idx int, processed *int64) (EntityReport, []deferredRef, error) {
	entReport := EntityReport{Entity: es.Entity, Expected: len(es.Records)}
	var deferred []deferredRef

	e.update(handle, func(st *progress.State) {
		st.Label = "Restoring " + es.Entity
		if idx < len(st.Entities) {
			st.Entities[idx].State = "processing"
		}
	})

	et, err := e.catalog.Lookup(es.Entity)
	if err != nil {
		msg := fmt.Sprintf("%s: unknown entity type, %d records", es.Entity, len(es.Records))
		if codecOpts.Mode == codec.Strict {
			report.fail(msg)
			entReport.Failed = len(es.Records)
			report.Failed += len(es.Records)
			return entReport, nil, fmt.Errorf("restore: %s", msg)
		}
		report.warn(msg + " skipped")
		entReport.Skipped = len(es.Records)
		report.Skipped += len(es.Records)
		e.markEntityDone(handle, idx, "skipped")
		return entReport, nil, nil
	}

	for _, pr := range es.Records {
		*processed++
		rec, defs, fieldWarnings, convErr := codec.FromPortable(ctx, et, pr, resolver, codecOpts)
		for _, w := range fieldWarnings {
			report.warn(w.String())
		}
		if convErr == nil {
			convErr = e.store.Upsert(ctx, es.Entity, rec)
		}
		if convErr != nil {
			if codecOpts.Mode == codec.Strict {
				report.fail(fmt.Sprintf("%s pk=%v: %v", es.Entity, pr.PK, convErr))
				entReport.Failed++
				report.Failed++
				return entReport, deferred, fmt.Errorf("restore %s pk=%v: %w", es.Entity, pr.PK, convErr)
			}
			report.warn(fmt.Sprintf("%s pk=%v: %v, record skipped", es.Entity, pr.PK, convErr))
			entReport.Skipped++
			report.Skipped++
			continue
		}

		for field, pks := range defs.Sets {
			deferred = append(deferred, deferredRef{entity: es.Entity, pk: rec.PK, field: field, set: pks})
		}
		for field, target := range defs.Singles {
			deferred = append(deferred, deferredRef{entity: es.Entity, pk: rec.PK, field: field, target: target})
		}
		entReport.Restored++
		report.Restored++

		if entReport.Restored%200 == 0 {
			current := *processed
			done := entReport.Restored + entReport.Skipped
			e.update(handle, func(st *progress.State) {
				st.Processed = current
				if idx < len(st.Entities) {
					st.Entities[idx].Processed = int64(done)
				}
			})
		}
	}

	current := *processed
	done := entReport.Restored + entReport.Skipped + entReport.Failed
	e.update(handle, func(st *progress.State) {
		st.Processed = current
		if idx < len(st.Entities) {
			st.Entities[idx].Processed = int64(done)
			st.Entities[idx].State = "completed"
		}
	})
	return entReport, deferred, nil
}

// applyDeferred writes deferred reference fields once every primary record
// exists, re-checking each target against the store so a reference to a
// record that ended up skipped is dropped rather than left dangling.
// Failures here never abort the run; the records themselves are already in
// place.
func (e *Engine) applyDeferred(ctx context.Context, deferred []deferredRef, report *Report, handle *progress.Handle) {
	if len(deferred) == 0 {
		return
	}
	e.update(handle, func(st *progress.State) {
		st.Status = progress.StatusSaving
		st.Label = "Linking deferred references"
	})
	exists := func(entity string, pk any) bool {
		_, ok, err := e.store.Get(ctx, entity, pk)
		return err == nil && ok
	}
	for _, d := range deferred {
		et, err := e.catalog.Lookup(d.entity)
		if err != nil {
			continue
		}
		fd, ok := et.Field(d.field)
		if !ok {
			continue
		}

		var value any
		if d.set != nil {
			kept := make([]any, 0, len(d.set))
			for _, member := range d.set {
				if exists(fd.Target, member) {
					kept = append(kept, member)
					continue
				}
				report.warn(fmt.Sprintf("%s pk=%v field %s: missing %s[%v] dropped from set",
					d.entity, d.pk, d.field, fd.Target, member))
			}
			value = kept
		} else {
			if !exists(fd.Target, d.target) {
				report.warn(fmt.Sprintf("%s pk=%v field %s: missing %s[%v] cleared",
					d.entity, d.pk, d.field, fd.Target, d.target))
				continue
			}
			value = d.target
		}

		rec := store.Record{PK: d.pk, Fields: map[string]any{d.field: value}}
		if err := e.store.Upsert(ctx, d.entity, rec); err != nil {
			report.warn(fmt.Sprintf("%s pk=%v field %s: %v", d.entity, d.pk, d.field, err))
			logging.Ctx(ctx).Warn().
				Str("entity", d.entity).
				Str("field", d.field).
				Err(err).
				Msg("deferred reference application failed")
		}
	}
}

func (e *Engine) markEntityDone(handle *progress.Handle, idx int, state string) {
	e.update(handle, func(st *progress.State) {
		if idx < len(st.Entities) {
			st.Entities[idx].State = state
		}
	})
}

func (e *Engine) update(handle *progress.Handle, mutate func(*progress.State)) {
	if handle != nil {
		handle.Update(mutate)
	}
}
