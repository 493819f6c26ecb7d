// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package purge plans and executes closure-complete deletions. A plan is
// either accepted in full or rejected; execution runs inside one
// transaction so a purge never leaves the store partially deleted.
package purge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/depgraph"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// Blocked names an entity whose deletion is prevented by dependents that
// cannot be deleted.
type Blocked struct {
	Entity     string   `json:"entity"`
	Dependents []string `json:"blocking_dependents"`
}

// Plan is the outcome of closure expansion over one purge request. Built
// per request, consumed immediately, never persisted.
type Plan struct {
	Requested []string  `json:"requested"`
	Expanded  []string  `json:"expanded"`
	Order     []string  `json:"order"`
	Rejected  []Blocked `json:"rejected,omitempty"`
}

// Accepted reports whether the plan may be executed.
func (p *Plan) Accepted() bool { return len(p.Rejected) == 0 }

// EntityResult records how one entity was purged.
type EntityResult struct {
	Entity           string `json:"entity"`
	Deleted          int64  `json:"deleted"`
	SentinelKept     bool   `json:"sentinel_kept,omitempty"`
	ReferencesMoved  bool   `json:"references_moved,omitempty"`
	CycleFieldsNulls int    `json:"cycle_fields_nulled,omitempty"`
}

// Report summarizes an executed purge.
type Report struct {
	Deleted         int64          `json:"deleted"`
	PerEntity       []EntityResult `json:"per_entity"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// DeletableEntity is one row of the deletable-entity listing.
type DeletableEntity struct {
	Entity            string   `json:"entity"`
	RecordCount       int64    `json:"record_count"`
	Dependents        []string `json:"dependents"`
	SafeToDeleteAlone bool     `json:"safe_to_delete_alone"`
}

// Planner builds and executes deletion plans over the catalog's dependency
// graph.
type Planner struct {
	store   store.Store
	catalog *schema.Catalog
	graph   *depgraph.Graph
}

// NewPlanner wires a planner. The dependency graph is derived from the
// catalog once.
func NewPlanner(st store.Store, catalog *schema.Catalog) *Planner {
	return &Planner{store: st, catalog: catalog, graph: depgraph.Build(catalog)}
}

// deletable reports whether an entity type may appear in a plan: it must be
// persistent and not on the exclusion list.
func (p *Planner) deletable(name string) bool {
	e, err := p.catalog.LookupAny(name)
	if err != nil || !e.Persistent {
		return false
	}
	return !p.catalog.Excluded(name)
}

// Plan expands the requested set over its dependents and either accepts the
// expansion or rejects the whole request.
//
// Expansion only pulls in deletable entity types. A dependent that exists
// but cannot be deleted (excluded framework tables) blocks the plan instead
// of silently joining it; non-persistent dependents hold no records and are
// ignored.
func (p *Planner) Plan(requested []string) (*Plan, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("purge: empty selection")
	}
	for _, name := range requested {
		if _, err := p.catalog.LookupAny(name); err != nil {
			return nil, fmt.Errorf("purge: %w", err)
		}
		if !p.deletable(name) {
			return nil, fmt.Errorf("purge: entity %s is not deletable", name)
		}
	}

	expanded := p.graph.Closure(requested)
	for name := range expanded {
		if !p.deletable(name) {
			delete(expanded, name)
		}
	}

	plan := &Plan{Requested: append([]string(nil), requested...)}
	for name := range expanded {
		plan.Expanded = append(plan.Expanded, name)
	}
	sort.Strings(plan.Expanded)

	// Rejection check: any dependent of the expanded set that the
	// expansion could not absorb blocks the plan.
	for _, name := range plan.Expanded {
		var blocking []string
		for _, dep := range p.graph.Dependents(name) {
			if expanded[dep] {
				continue
			}
			if e, err := p.catalog.LookupAny(dep); err == nil && !e.Persistent {
				continue
			}
			blocking = append(blocking, dep)
		}
		if len(blocking) > 0 {
			plan.Rejected = append(plan.Rejected, Blocked{Entity: name, Dependents: blocking})
		}
	}
	if !plan.Accepted() {
		return plan, nil
	}

	plan.Order = p.graph.PostOrder(expanded)
	return plan, nil
}

// Execute runs an accepted plan inside a single transaction. Genuine
// reference cycles inside the plan are broken by nulling the cyclic fields
// first; sentinel-bearing entities keep one sentinel record and have their
// soft references repointed to it before deletion.
func (p *Planner) Execute(ctx context.Context, plan *Plan, handle *progress.Handle) (*Report, error) {
	if !plan.Accepted() {
		return nil, fmt.Errorf("purge: plan rejected, %d blocked entities", len(plan.Rejected))
	}

	started := time.Now()
	report := &Report{}
	defer func() { report.DurationSeconds = time.Since(started).Seconds() }()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge: begin: %w", err)
	}
	defer tx.Rollback()

	expanded := make(map[string]bool, len(plan.Expanded))
	for _, name := range plan.Expanded {
		expanded[name] = true
	}
	cycleFields := depgraph.CyclicFields(p.catalog, p.graph.Cycles(expanded))

	p.update(handle, func(st *progress.State) {
		st.Status = progress.StatusProcessing
		st.Total = int64(len(plan.Order))
		st.Entities = make([]progress.EntityProgress, len(plan.Order))
		for i, name := range plan.Order {
			st.Entities[i] = progress.EntityProgress{Entity: name, State: "pending", Total: 1}
		}
	})

	for _, name := range plan.Order {
		for _, field := range cycleFields[name] {
			if err := tx.NullifyField(ctx, name, field); err != nil {
				return nil, fmt.Errorf("purge: break cycle on %s.%s: %w", name, field, err)
			}
		}
	}

	for i, name := range plan.Order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.update(handle, func(st *progress.State) {
			st.Label = "Deleting " + name
			if i < len(st.Entities) {
				st.Entities[i].State = "processing"
			}
		})

		result, err := p.deleteEntity(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		result.CycleFieldsNulls = len(cycleFields[name])
		report.PerEntity = append(report.PerEntity, result)
		report.Deleted += result.Deleted

		p.update(handle, func(st *progress.State) {
			st.Processed = int64(i + 1)
			if i < len(st.Entities) {
				st.Entities[i].State = "completed"
				st.Entities[i].Processed = 1
			}
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("purge: commit: %w", err)
	}

	logging.Ctx(ctx).Info().
		Int64("deleted", report.Deleted).
		Int("entities", len(plan.Order)).
		Msg("purge committed")
	return report, nil
}

// deleteEntity removes every record of the entity. Sentinel-bearing
// entities keep one record so historical soft references stay resolvable.
func (p *Planner) deleteEntity(ctx context.Context, tx store.Tx, name string) (EntityResult, error) {
	result := EntityResult{Entity: name}
	e, err := p.catalog.Lookup(name)
	if err != nil {
		return result, fmt.Errorf("purge: %w", err)
	}

	if e.SentinelPK == nil {
		n, err := tx.DeleteAll(ctx, name)
		if err != nil {
			return result, fmt.Errorf("purge: delete %s: %w", name, err)
		}
		result.Deleted = n
		return result, nil
	}

	if err := p.ensureSentinel(ctx, tx, e); err != nil {
		return result, err
	}
	if err := p.repointSoftReferences(ctx, tx, e); err != nil {
		return result, err
	}
	result.ReferencesMoved = true

	n, err := tx.DeleteAllExcept(ctx, name, e.SentinelPK)
	if err != nil {
		return result, fmt.Errorf("purge: delete %s: %w", name, err)
	}
	result.Deleted = n
	result.SentinelKept = true
	return result, nil
}

func (p *Planner) ensureSentinel(ctx context.Context, tx store.Tx, e *schema.EntityType) error {
	name := e.QualifiedName()
	exists, err := tx.Exists(ctx, name, e.SentinelPK)
	if err != nil {
		return fmt.Errorf("purge: sentinel lookup for %s: %w", name, err)
	}
	if exists {
		return nil
	}
	rec := store.Record{PK: e.SentinelPK, Fields: map[string]any{}}
	if e.SentinelLabelField != "" {
		rec.Fields[e.SentinelLabelField] = schema.SentinelLabel
	}
	if err := tx.Upsert(ctx, name, rec); err != nil {
		return fmt.Errorf("purge: create sentinel for %s: %w", name, err)
	}
	return nil
}

// repointSoftReferences moves every soft reference aimed at the entity onto
// its sentinel record, across all persistent entity types including
// excluded ones (audit history must survive the purge).
func (p *Planner) repointSoftReferences(ctx context.Context, tx store.Tx, target *schema.EntityType) error {
	targetName := target.QualifiedName()
	for _, e := range p.catalog.AllEntityTypes() {
		if !e.Persistent {
			continue
		}
		for _, f := range e.Fields {
			if !f.Soft || !f.Kind.IsReference() || f.Target != targetName {
				continue
			}
			if err := tx.RepointField(ctx, e.QualifiedName(), f.Name, target.SentinelPK); err != nil {
				return fmt.Errorf("purge: repoint %s.%s: %w", e.QualifiedName(), f.Name, err)
			}
		}
	}
	return nil
}

// Clear plans and executes a purge over the given entities, used by the
// restore engine's clear-first step.
func (p *Planner) Clear(ctx context.Context, entities []string) error {
	if len(entities) == 0 {
		return nil
	}
	plan, err := p.Plan(entities)
	if err != nil {
		return err
	}
	if !plan.Accepted() {
		return fmt.Errorf("purge: clear blocked by external dependents: %+v", plan.Rejected)
	}
	_, err = p.Execute(ctx, plan, nil)
	return err
}

// ListDeletable describes every deletable entity type with its dependents,
// for callers assembling a purge selection.
func (p *Planner) ListDeletable(ctx context.Context) ([]DeletableEntity, error) {
	var out []DeletableEntity
	for _, e := range p.catalog.EntityTypes() {
		name := e.QualifiedName()
		if !p.deletable(name) {
			continue
		}
		count, err := p.store.Count(ctx, name)
		if err != nil {
			count = -1
		}
		deps := p.graph.Dependents(name)
		out = append(out, DeletableEntity{
			Entity:            name,
			RecordCount:       count,
			Dependents:        deps,
			SafeToDeleteAlone: len(deps) == 0,
		})
	}
	return out, nil
}

func (p *Planner) update(handle *progress.Handle, mutate func(*progress.State)) {
	if handle != nil {
		handle.Update(mutate)
	}
}
