// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package schema

// FieldKind is the closed set of semantic field types the engine understands.
// Every conversion in the record codec dispatches on this enum exactly once,
// so adding a new kind touches one switch per direction.
type FieldKind int

const (
	// KindText is a UTF-8 string field.
	KindText FieldKind = iota

	// KindInteger is a 64-bit signed integer field.
	KindInteger

	// KindDecimal is a high-precision fixed-point number. Decimals are
	// serialized as strings to avoid binary floating-point drift.
	KindDecimal

	// KindBoolean is a true/false field.
	KindBoolean

	// KindTimestamp is a point in time with date and time components.
	KindTimestamp

	// KindDate is a calendar date without a time component.
	KindDate

	// KindTime is a time of day without a date component.
	KindTime

	// KindBinaryRef is a reference to stored binary content (a file). Only
	// the logical path is carried through backups, never the bytes.
	KindBinaryRef

	// KindReference is a single-valued reference to another entity's record.
	KindReference

	// KindReferenceSet is a multi-valued, ordered reference to records of
	// another entity.
	KindReferenceSet
)

// String returns the canonical lowercase name of the kind.
func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindBinaryRef:
		return "binary_ref"
	case KindReference:
		return "reference"
	case KindReferenceSet:
		return "reference_set"
	default:
		return "unknown"
	}
}

// IsReference reports whether the kind points at another entity.
func (k FieldKind) IsReference() bool {
	return k == KindReference || k == KindReferenceSet
}
