// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package backup builds portable snapshots of the record store. A snapshot
// is assembled in memory as a Document and flushed once, either as a JSON
// document or as a spreadsheet workbook.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// Chunk sizing bounds. The chunk grows with table size so huge tables do
// not update progress on every handful of rows, but never below the floor.
const (
	DefaultChunkFloor   = 500
	DefaultChunkCeiling = 5000
)

// SerializerConfig tunes chunking and read pacing.
type SerializerConfig struct {
	ChunkFloor   int
	ChunkCeiling int

	// ChunksPerSecond throttles store reads so a backup does not starve
	// the live workload. Zero disables throttling.
	ChunksPerSecond float64
}

func (c *SerializerConfig) normalize() {
	if c.ChunkFloor <= 0 {
		c.ChunkFloor = DefaultChunkFloor
	}
	if c.ChunkCeiling < c.ChunkFloor {
		c.ChunkCeiling = DefaultChunkCeiling
	}
	if c.ChunkCeiling < c.ChunkFloor {
		c.ChunkCeiling = c.ChunkFloor
	}
}

// Serializer reads the store entity by entity and produces a Document.
type Serializer struct {
	store   store.Store
	catalog *schema.Catalog
	cfg     SerializerConfig
	limiter *rate.Limiter
}

// NewSerializer wires a serializer over a store and catalog.
func NewSerializer(st store.Store, catalog *schema.Catalog, cfg SerializerConfig) *Serializer {
	cfg.normalize()
	s := &Serializer{store: st, catalog: catalog, cfg: cfg}
	if cfg.ChunksPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ChunksPerSecond), 1)
	}
	return s
}

// entityPlan is one entity's share of the work, counted up front.
type entityPlan struct {
	entity *schema.EntityType
	total  int64
}

// Run produces a Document covering the selected entity types, or every
// persistent entity type when selection is nil. Progress is published
// through the handle after every chunk; handle may be nil in tests.
//
// Entities need not be read in dependency order. An entity whose table
// cannot be read is skipped with a warning rather than failing the backup.
func (s *Serializer) Run(ctx context.Context, selection []string, handle *progress.Handle) (*Document, error) {
	entities, err := s.resolveSelection(selection)
	if err != nil {
		return nil, err
	}

	s.update(handle, func(st *progress.State) {
		st.Status = progress.StatusAnalyzing
		st.Label = "Counting records"
	})

	plans, totalRecords, warnings := s.countAll(ctx, entities)

	doc := &Document{
		Metadata: Metadata{
			CreatedAt:     time.Now().UTC(),
			CreatedBy:     "system",
			EntityCount:   len(plans),
			RecordCount:   totalRecords,
			FormatVersion: FormatVersion,
		},
	}

	s.update(handle, func(st *progress.State) {
		st.Status = progress.StatusProcessing
		st.Total = totalRecords
		st.Warnings = append(st.Warnings, warnings...)
		st.Entities = make([]progress.EntityProgress, len(plans))
		for i, p := range plans {
			st.Entities[i] = progress.EntityProgress{
				Entity: p.entity.QualifiedName(),
				State:  "pending",
				Total:  p.total,
			}
		}
	})

	started := time.Now()
	var processed int64
	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.serializeEntity(ctx, p, doc, handle, i, &processed, started, len(plans))
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", p.entity.QualifiedName(), err)
		}
		logging.Ctx(ctx).Debug().
			Str("entity", p.entity.QualifiedName()).
			Int64("records", n).
			Msg("entity serialized")
	}

	doc.Metadata.RecordCount = processed
	return doc, nil
}

func (s *Serializer) resolveSelection(selection []string) ([]*schema.EntityType, error) {
	if len(selection) == 0 {
		return s.catalog.EntityTypes(), nil
	}
	out := make([]*schema.EntityType, 0, len(selection))
	for _, name := range selection {
		e, err := s.catalog.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// countAll snapshots per-entity record counts so total work is known before
// any record is processed. Unreadable entities are dropped with a warning.
func (s *Serializer) countAll(ctx context.Context, entities []*schema.EntityType) ([]entityPlan, int64, []string) {
	plans := make([]entityPlan, 0, len(entities))
	var total int64
	var warnings []string
	for _, e := range entities {
		n, err := s.store.Count(ctx, e.QualifiedName())
		if err != nil {
			if errors.Is(err, store.ErrEntityUnavailable) {
				warnings = append(warnings, fmt.Sprintf("%s: storage unavailable, skipped", e.QualifiedName()))
				logging.Ctx(ctx).Warn().
					Str("entity", e.QualifiedName()).
					Err(err).
					Msg("entity skipped during backup")
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s: count failed (%v), skipped", e.QualifiedName(), err))
			continue
		}
		plans = append(plans, entityPlan{entity: e, total: n})
		total += n
	}
	return plans, total, warnings
}

func (s *Serializer) serializeEntity(ctx context.Context, p entityPlan, doc *Document, handle *progress.Handle, idx int, processed *int64, started time.Time, totalEntities int) (int64, error) {
	name := p.entity.QualifiedName()
	doc.Append(name)
	chunk := s.chunkSize(p.total)

	s.update(handle, func(st *progress.State) {
		st.Label = "Backing up " + name
		if idx < len(st.Entities) {
			st.Entities[idx].State = "processing"
		}
	})

	var done int64
	for offset := 0; ; offset += chunk {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return done, err
			}
		}
		records, err := s.store.ReadChunk(ctx, name, offset, chunk)
		if err != nil {
			return done, err
		}
		if len(records) == 0 {
			break
		}

		portable := make([]codec.PortableRecord, 0, len(records))
		var chunkWarnings []string
		for _, rec := range records {
			pr, fieldWarnings := codec.ToPortable(p.entity, rec)
			for _, w := range fieldWarnings {
				chunkWarnings = append(chunkWarnings, w.String())
			}
			portable = append(portable, pr)
		}
		doc.Append(name, portable...)

		done += int64(len(records))
		*processed += int64(len(records))
		s.update(handle, func(st *progress.State) {
			st.Processed = *processed
			st.ETASeconds = rollingETA(started, idx, totalEntities)
			if idx < len(st.Entities) {
				st.Entities[idx].Processed = done
			}
			st.Warnings = appendBounded(st.Warnings, chunkWarnings)
		})

		if len(records) < chunk {
			break
		}
	}

	s.update(handle, func(st *progress.State) {
		if idx < len(st.Entities) {
			st.Entities[idx].State = "completed"
			st.Entities[idx].Processed = done
		}
		st.ETASeconds = rollingETA(started, idx+1, totalEntities)
	})
	return done, nil
}

// chunkSize scales the read window with table size between the configured
// floor and ceiling.
func (s *Serializer) chunkSize(total int64) int {
	size := int(total / 20)
	if size < s.cfg.ChunkFloor {
		return s.cfg.ChunkFloor
	}
	if size > s.cfg.ChunkCeiling {
		return s.cfg.ChunkCeiling
	}
	return size
}

// rollingETA estimates remaining seconds from elapsed time divided by
// entities completed so far.
func rollingETA(started time.Time, completed, total int) float64 {
	if completed <= 0 || total <= completed {
		return 0
	}
	perEntity := time.Since(started).Seconds() / float64(completed)
	return perEntity * float64(total-completed)
}

func (s *Serializer) update(handle *progress.Handle, mutate func(*progress.State)) {
	if handle != nil {
		handle.Update(mutate)
	}
}

// appendBounded keeps the warning list from growing without bound on very
// noisy backups.
func appendBounded(existing, extra []string) []string {
	const maxWarnings = 50
	for _, w := range extra {
		if len(existing) >= maxWarnings {
			return existing
		}
		existing = append(existing, w)
	}
	return existing
}
