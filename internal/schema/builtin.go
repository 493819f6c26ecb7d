// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package schema

// DefaultExclusions lists framework-owned entities that are never backed up
// or purged: they are rebuilt by the application itself.
var DefaultExclusions = []string{
	"system.session",
	"system.permission",
}

// SentinelLabel is the marker value written into the label field of a
// sentinel record created during a purge.
const SentinelLabel = "(deleted)"

// RegisterBuiltin registers the Finspilot business entities.
//
// The set covers every field kind the engine supports and the reference
// shapes the portability operations must handle: self-references
// (inventory.category, ledger.account), reference sets (sales.invoice tags),
// binary references (docs.attachment), and soft audit references with a
// sentinel (system.audit_log -> auth.user).
func RegisterBuiltin(c *Catalog) {
	entities := []*EntityType{
		{
			Namespace: "auth", Name: "user",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent:         true,
			SentinelPK:         int64(0),
			SentinelLabelField: "username",
			Fields: []FieldDescriptor{
				{Name: "username", Kind: KindText},
				{Name: "email", Kind: KindText, Nullable: true},
				{Name: "is_active", Kind: KindBoolean},
				{Name: "date_joined", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "parties", Name: "customer",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "name", Kind: KindText},
				{Name: "tax_number", Kind: KindText, Nullable: true},
				{Name: "credit_limit", Kind: KindDecimal, Nullable: true},
				{Name: "created_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "parties", Name: "supplier",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "name", Kind: KindText},
				{Name: "tax_number", Kind: KindText, Nullable: true},
				{Name: "created_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "inventory", Name: "category",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "name", Kind: KindText},
				// Category trees are self-referential.
				{Name: "parent", Kind: KindReference, Target: "inventory.category", Nullable: true},
			},
		},
		{
			Namespace: "inventory", Name: "product",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "name", Kind: KindText},
				{Name: "sku", Kind: KindText},
				{Name: "category", Kind: KindReference, Target: "inventory.category", Nullable: true},
				{Name: "unit_price", Kind: KindDecimal},
				{Name: "in_stock", Kind: KindBoolean},
			},
		},
		{
			Namespace: "crm", Name: "tag",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "name", Kind: KindText},
			},
		},
		{
			Namespace: "sales", Name: "invoice",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "number", Kind: KindText},
				{Name: "customer", Kind: KindReference, Target: "parties.customer"},
				{Name: "created_by", Kind: KindReference, Target: "auth.user", Nullable: true},
				{Name: "issue_date", Kind: KindDate},
				{Name: "issue_time", Kind: KindTime, Nullable: true},
				{Name: "total", Kind: KindDecimal},
				{Name: "posted", Kind: KindBoolean},
				{Name: "tags", Kind: KindReferenceSet, Target: "crm.tag", Nullable: true},
				{Name: "created_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "sales", Name: "invoice_item",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "invoice", Kind: KindReference, Target: "sales.invoice"},
				{Name: "product", Kind: KindReference, Target: "inventory.product"},
				{Name: "quantity", Kind: KindDecimal},
				{Name: "unit_price", Kind: KindDecimal},
			},
		},
		{
			Namespace: "ledger", Name: "account",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "code", Kind: KindText},
				{Name: "name", Kind: KindText},
				{Name: "parent", Kind: KindReference, Target: "ledger.account", Nullable: true},
			},
		},
		{
			Namespace: "ledger", Name: "journal_entry",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "reference", Kind: KindText},
				{Name: "entry_date", Kind: KindDate},
				{Name: "created_by", Kind: KindReference, Target: "auth.user", Nullable: true},
				{Name: "created_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "ledger", Name: "journal_line",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "entry", Kind: KindReference, Target: "ledger.journal_entry"},
				{Name: "account", Kind: KindReference, Target: "ledger.account"},
				{Name: "debit", Kind: KindDecimal},
				{Name: "credit", Kind: KindDecimal},
			},
		},
		{
			Namespace: "docs", Name: "attachment",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "title", Kind: KindText},
				// Only the logical file path travels through backups.
				{Name: "file", Kind: KindBinaryRef, Nullable: true},
				{Name: "uploaded_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "system", Name: "audit_log",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				// Audit history must survive user deletion: soft reference,
				// repointed to the auth.user sentinel during a purge.
				{Name: "user", Kind: KindReference, Target: "auth.user", Nullable: true, Soft: true},
				{Name: "action", Kind: KindText},
				{Name: "detail", Kind: KindText, Nullable: true},
				{Name: "logged_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "system", Name: "session",
			PrimaryKey: "key", PrimaryKeyKind: KindText,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "payload", Kind: KindText},
				{Name: "expires_at", Kind: KindTimestamp},
			},
		},
		{
			Namespace: "system", Name: "permission",
			PrimaryKey: "id", PrimaryKeyKind: KindInteger,
			Persistent: true,
			Fields: []FieldDescriptor{
				{Name: "codename", Kind: KindText},
				{Name: "label", Kind: KindText},
			},
		},
	}

	for _, e := range entities {
		// Registration errors are recorded as catalog warnings; a single bad
		// entity never aborts the catalog.
		_ = c.Register(e)
	}
	c.Validate()
}
