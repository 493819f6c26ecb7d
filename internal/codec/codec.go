// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package codec converts stored records to and from their portable
// representation.
//
// Portable values are limited to a closed set every target format can carry
// losslessly: string, float64, bool, nil, and lists of those. Precision-
// sensitive kinds (decimals) travel as strings so no binary floating-point
// drift can occur across a serialize/deserialize round trip.
package codec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

// Canonical string layouts for temporal kinds.
const (
	TimestampLayout = time.RFC3339
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
)

// PortableRecord is the format-agnostic representation of one record.
type PortableRecord struct {
	// Model is the qualified entity name, "namespace.localName".
	Model string `json:"model"`

	// PK is the primary key value, or nil.
	PK any `json:"pk"`

	// Fields maps field name to portable value.
	Fields map[string]any `json:"fields"`
}

// FieldWarning records a non-fatal, field-level conversion problem.
type FieldWarning struct {
	Entity string
	PK     any
	Field  string
	Msg    string
}

func (w FieldWarning) String() string {
	return fmt.Sprintf("%s[%s].%s: %s", w.Entity, store.KeyString(w.PK), w.Field, w.Msg)
}

// Mode selects how unresolvable references are handled during restore.
type Mode int

const (
	// Strict aborts the operation on the first unresolvable required
	// reference.
	Strict Mode = iota

	// Tolerant repairs or drops broken references and keeps going.
	Tolerant
)

// ParseMode converts the wire names "strict"/"tolerant".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "strict":
		return Strict, nil
	case "tolerant", "":
		return Tolerant, nil
	default:
		return Tolerant, fmt.Errorf("unknown integrity mode %q", s)
	}
}

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "tolerant"
}

// Options governs FromPortable behavior.
type Options struct {
	Mode Mode

	// SubstituteArbitraryReference, in tolerant mode, replaces an
	// unresolvable required reference with an arbitrary existing record of
	// the target type. Off by default: the substitution silently changes
	// data semantics and must be an explicit opt-in.
	SubstituteArbitraryReference bool

	// PendingTarget reports whether a reference target absent from the
	// store is expected to appear later in the same run. Such references
	// are deferred instead of repaired or failed, which is what lets a
	// record point forward at one restored after it.
	PendingTarget func(entity string, pk any) bool
}

// Deferred holds reference fields whose application must wait until every
// primary record of the run exists.
type Deferred struct {
	// Sets maps multi-valued reference fields to their target key lists.
	Sets map[string][]any

	// Singles maps single reference fields whose target was still pending
	// at conversion time to the target key.
	Singles map[string]any
}

// Empty reports whether nothing was deferred.
func (d Deferred) Empty() bool {
	return len(d.Sets) == 0 && len(d.Singles) == 0
}

// Resolver looks up reference targets in the live store.
type Resolver interface {
	Exists(ctx context.Context, entity string, pk any) (bool, error)
	AnyPK(ctx context.Context, entity string) (any, bool, error)
}

// ErrUnresolvedReference is the blocking error raised in strict mode for a
// reference whose target does not exist.
var ErrUnresolvedReference = errors.New("unresolved reference")

// ToPortable converts a stored record to its portable form.
//
// A field whose conversion fails is recorded as null with a warning; a
// backup never aborts because one column is exotic.
func ToPortable(e *schema.EntityType, rec store.Record) (PortableRecord, []FieldWarning) {
	pr := PortableRecord{
		Model:  e.QualifiedName(),
		PK:     portablePK(rec.PK),
		Fields: make(map[string]any, len(e.Fields)),
	}
	var warnings []FieldWarning
	for _, f := range e.Fields {
		v, err := portableValue(f, rec.Fields[f.Name])
		if err != nil {
			warnings = append(warnings, FieldWarning{
				Entity: e.QualifiedName(), PK: rec.PK, Field: f.Name, Msg: err.Error(),
			})
			pr.Fields[f.Name] = nil
			continue
		}
		pr.Fields[f.Name] = v
	}
	return pr, warnings
}

// portableValue dispatches exactly once on the field kind.
func portableValue(f schema.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case schema.KindText, schema.KindBinaryRef, schema.KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case schema.KindInteger:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case float64:
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case schema.KindDecimal:
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("expected decimal, got %T", v)
		}
		return d.String(), nil
	case schema.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case schema.KindTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected timestamp, got %T", v)
		}
		return t.UTC().Format(TimestampLayout), nil
	case schema.KindDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected date, got %T", v)
		}
		return t.Format(DateLayout), nil
	case schema.KindReference:
		return portablePK(v), nil
	case schema.KindReferenceSet:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected reference list, got %T", v)
		}
		out := make([]any, len(list))
		for i, pk := range list {
			out[i] = portablePK(pk)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", f.Kind)
	}
}

// portablePK renders a primary key as a portable value: integers become
// numbers, everything else a string.
func portablePK(pk any) any {
	switch v := pk.(type) {
	case nil:
		return nil
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return store.KeyString(pk)
	}
}

// FromPortable converts a portable record back into a stored record,
// resolving references against the live store under the given options.
//
// The returned record excludes reference-set fields and pending single
// references; those come back in Deferred because they can only be applied
// once the run's primary records exist.
func FromPortable(ctx context.Context, e *schema.EntityType, pr PortableRecord, resolver Resolver, opts Options) (store.Record, Deferred, []FieldWarning, error) {
	rec := store.Record{
		PK:     NormalizePK(e, pr.PK),
		Fields: make(map[string]any, len(e.Fields)),
	}
	deferred := Deferred{Sets: make(map[string][]any), Singles: make(map[string]any)}
	var warnings []FieldWarning

	for _, f := range e.Fields {
		raw, present := pr.Fields[f.Name]
		if !present {
			continue
		}
		switch f.Kind {
		case schema.KindReference:
			pk, pending, warn, err := resolveReference(ctx, e, pr.PK, f, raw, resolver, opts)
			if err != nil {
				return store.Record{}, Deferred{}, warnings, err
			}
			if warn != nil {
				warnings = append(warnings, *warn)
			}
			if pending {
				deferred.Singles[f.Name] = pk
				continue
			}
			if pk != nil || f.Nullable {
				rec.Fields[f.Name] = pk
			}
		case schema.KindReferenceSet:
			list, warns, err := resolveReferenceSet(ctx, e, pr.PK, f, raw, resolver, opts)
			warnings = append(warnings, warns...)
			if err != nil {
				return store.Record{}, Deferred{}, warnings, err
			}
			deferred.Sets[f.Name] = list
		default:
			v, err := nativeValue(f, raw)
			if err != nil {
				if opts.Mode == Strict {
					return store.Record{}, Deferred{}, warnings, fmt.Errorf("field %q: %w", f.Name, err)
				}
				warnings = append(warnings, FieldWarning{
					Entity: e.QualifiedName(), PK: pr.PK, Field: f.Name, Msg: err.Error(),
				})
				continue
			}
			rec.Fields[f.Name] = v
		}
	}

	// Unknown fields in the portable record are dropped with a warning,
	// keeping older backups readable by newer catalogs.
	for name := range pr.Fields {
		if _, known := e.Field(name); !known {
			warnings = append(warnings, FieldWarning{
				Entity: e.QualifiedName(), PK: pr.PK, Field: name, Msg: "unknown field dropped",
			})
		}
	}

	return rec, deferred, warnings, nil
}

func resolveReference(ctx context.Context, e *schema.EntityType, recPK any, f schema.FieldDescriptor, raw any, resolver Resolver, opts Options) (pk any, pending bool, warn *FieldWarning, err error) {
	if raw == nil {
		return nil, false, nil, nil
	}
	target, err := targetEntityPK(f, raw)
	if err != nil {
		return nil, false, nil, fmt.Errorf("field %q: %w", f.Name, err)
	}

	exists, err := resolver.Exists(ctx, f.Target, target)
	if err != nil {
		return nil, false, nil, fmt.Errorf("field %q: lookup %s: %w", f.Name, f.Target, err)
	}
	if exists {
		return target, false, nil, nil
	}
	if opts.PendingTarget != nil && opts.PendingTarget(f.Target, target) {
		return target, true, nil, nil
	}

	if opts.Mode == Strict && !f.Nullable {
		return nil, false, nil, fmt.Errorf("%w: %s[%s].%s -> %s[%s]",
			ErrUnresolvedReference, e.QualifiedName(), store.KeyString(recPK), f.Name, f.Target, store.KeyString(target))
	}

	// Tolerant repair path.
	if !f.Nullable && opts.SubstituteArbitraryReference {
		sub, ok, err := resolver.AnyPK(ctx, f.Target)
		if err != nil {
			return nil, false, nil, fmt.Errorf("field %q: substitute lookup: %w", f.Name, err)
		}
		if ok {
			return sub, false, &FieldWarning{
				Entity: e.QualifiedName(), PK: recPK, Field: f.Name,
				Msg: fmt.Sprintf("missing %s[%s] substituted with %s[%s]",
					f.Target, store.KeyString(target), f.Target, store.KeyString(sub)),
			}, nil
		}
	}
	if f.Nullable {
		return nil, false, &FieldWarning{
			Entity: e.QualifiedName(), PK: recPK, Field: f.Name,
			Msg: fmt.Sprintf("missing %s[%s] cleared", f.Target, store.KeyString(target)),
		}, nil
	}
	// A required reference with no target is a broken record in any mode;
	// the tolerant engine turns this into a per-record skip.
	return nil, false, nil, fmt.Errorf("%w: %s[%s].%s -> %s[%s]",
		ErrUnresolvedReference, e.QualifiedName(), store.KeyString(recPK), f.Name, f.Target, store.KeyString(target))
}

func resolveReferenceSet(ctx context.Context, e *schema.EntityType, recPK any, f schema.FieldDescriptor, raw any, resolver Resolver, opts Options) ([]any, []FieldWarning, error) {
	if raw == nil {
		return nil, nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("field %q: expected list, got %T", f.Name, raw)
	}
	var out []any
	var warnings []FieldWarning
	for _, item := range list {
		target, err := targetEntityPK(f, item)
		if err != nil {
			return nil, warnings, fmt.Errorf("field %q: %w", f.Name, err)
		}
		exists, err := resolver.Exists(ctx, f.Target, target)
		if err != nil {
			return nil, warnings, fmt.Errorf("field %q: lookup %s: %w", f.Name, f.Target, err)
		}
		if exists {
			out = append(out, target)
			continue
		}
		if opts.PendingTarget != nil && opts.PendingTarget(f.Target, target) {
			out = append(out, target)
			continue
		}
		if opts.Mode == Strict {
			return nil, warnings, fmt.Errorf("%w: %s[%s].%s -> %s[%s]",
				ErrUnresolvedReference, e.QualifiedName(), store.KeyString(recPK), f.Name, f.Target, store.KeyString(target))
		}
		warnings = append(warnings, FieldWarning{
			Entity: e.QualifiedName(), PK: recPK, Field: f.Name,
			Msg: fmt.Sprintf("missing %s[%s] dropped from set", f.Target, store.KeyString(target)),
		})
	}
	return out, warnings, nil
}

// targetEntityPK normalizes a portable reference value to the target's
// primary key type. Portable numbers arrive as float64 from JSON and as
// strings from workbook cells.
func targetEntityPK(f schema.FieldDescriptor, raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported reference key type %T", raw)
	}
}

// NormalizePK converts a portable primary key value to the entity's native
// key type.
func NormalizePK(e *schema.EntityType, pk any) any {
	if pk == nil {
		return nil
	}
	if e.PrimaryKeyKind == schema.KindText {
		return store.KeyString(pk)
	}
	switch v := pk.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return pk
}

// nativeValue converts a portable scalar into the store's native type,
// accepting both JSON-typed and workbook-string inputs.
func nativeValue(f schema.FieldDescriptor, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind {
	case schema.KindText, schema.KindBinaryRef:
		return asString(raw)
	case schema.KindTime:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		if _, perr := time.Parse(TimeLayout, s); perr != nil {
			return nil, fmt.Errorf("invalid time %q", s)
		}
		return s, nil
	case schema.KindInteger:
		switch v := raw.(type) {
		case float64:
			return int64(v), nil
		case int64:
			return v, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
	case schema.KindDecimal:
		s, err := asString(raw)
		if err != nil {
			if n, isNum := raw.(float64); isNum {
				return decimal.NewFromFloat(n), nil
			}
			return nil, err
		}
		d, derr := decimal.NewFromString(strings.TrimSpace(s))
		if derr != nil {
			return nil, fmt.Errorf("invalid decimal %q", s)
		}
		return d, nil
	case schema.KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
			if err != nil {
				return nil, fmt.Errorf("invalid boolean %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
	case schema.KindTimestamp:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		t, perr := time.Parse(TimestampLayout, s)
		if perr != nil {
			return nil, fmt.Errorf("invalid timestamp %q", s)
		}
		return t.UTC(), nil
	case schema.KindDate:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		t, perr := time.Parse(DateLayout, s)
		if perr != nil {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", f.Kind)
	}
}

func asString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	return s, nil
}
