// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package backup

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
)

// FormatVersion is written into every backup and checked leniently on read:
// unknown fields from other versions are dropped with a warning, never
// rejected.
const FormatVersion = 1

// Format selects the output representation of a backup.
type Format string

const (
	// FormatDocument is the structured JSON document format.
	FormatDocument Format = "document"

	// FormatTabular is the spreadsheet workbook format.
	FormatTabular Format = "tabular"
)

// ParseFormat validates a wire format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatDocument, "":
		return FormatDocument, nil
	case FormatTabular:
		return FormatTabular, nil
	default:
		return "", fmt.Errorf("unknown backup format %q", s)
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	if f == FormatTabular {
		return ".xlsx"
	}
	return ".json"
}

// Metadata describes a backup document.
type Metadata struct {
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	EntityCount   int       `json:"entity_count"`
	RecordCount   int64     `json:"record_count"`
	FormatVersion int       `json:"format_version"`
}

// EntitySet holds all portable records of one entity type, in read order.
type EntitySet struct {
	Entity  string
	Records []codec.PortableRecord
}

// Document is a complete in-memory backup: metadata plus per-entity record
// sets in serialization order.
type Document struct {
	Metadata Metadata
	Entities []EntitySet
}

// EntityNames returns the qualified names present in the document, in order.
func (d *Document) EntityNames() []string {
	out := make([]string, len(d.Entities))
	for i, es := range d.Entities {
		out[i] = es.Entity
	}
	return out
}

// Append adds records to the entity's set, creating it on first use.
func (d *Document) Append(entity string, records ...codec.PortableRecord) {
	for i := range d.Entities {
		if d.Entities[i].Entity == entity {
			d.Entities[i].Records = append(d.Entities[i].Records, records...)
			return
		}
	}
	d.Entities = append(d.Entities, EntitySet{Entity: entity, Records: records})
}

// WriteDocument emits the JSON document format:
//
//	{
//	  "metadata": {...},
//	  "data": {"<namespace>": {"<localName>": [{"model": ..., "pk": ..., "fields": {...}}, ...]}}
//	}
func WriteDocument(w io.Writer, doc *Document) error {
	data := make(map[string]map[string][]codec.PortableRecord)
	for _, es := range doc.Entities {
		ns, local, ok := splitQualified(es.Entity)
		if !ok {
			return fmt.Errorf("invalid qualified entity name %q", es.Entity)
		}
		if data[ns] == nil {
			data[ns] = make(map[string][]codec.PortableRecord)
		}
		data[ns][local] = es.Records
	}

	payload := struct {
		Metadata Metadata                                    `json:"metadata"`
		Data     map[string]map[string][]codec.PortableRecord `json:"data"`
	}{Metadata: doc.Metadata, Data: data}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// ParseDocument reads the JSON document format back into a Document.
//
// Unknown keys, whether in the metadata object or inside record objects,
// are dropped with a warning so documents produced by other metadata
// versions stay readable.
func ParseDocument(r io.Reader) (*Document, []string, error) {
	var payload struct {
		Metadata map[string]any               `json:"metadata"`
		Data     map[string]map[string][]map[string]any `json:"data"`
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("parse backup document: %w", err)
	}

	var warnings []string
	doc := &Document{}
	doc.Metadata, warnings = parseMetadata(payload.Metadata)

	namespaces := sortedKeys(payload.Data)
	for _, ns := range namespaces {
		for _, local := range sortedKeys(payload.Data[ns]) {
			entity := ns + "." + local
			records := make([]codec.PortableRecord, 0, len(payload.Data[ns][local]))
			for i, raw := range payload.Data[ns][local] {
				pr, recWarnings := parseRecordObject(entity, i, raw)
				warnings = append(warnings, recWarnings...)
				records = append(records, pr)
			}
			doc.Entities = append(doc.Entities, EntitySet{Entity: entity, Records: records})
		}
	}
	return doc, warnings, nil
}

func parseMetadata(raw map[string]any) (Metadata, []string) {
	var md Metadata
	var warnings []string
	for key, val := range raw {
		switch key {
		case "name":
			md.Name, _ = val.(string)
		case "created_at":
			if s, ok := val.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					md.CreatedAt = t
				}
			}
		case "created_by":
			md.CreatedBy, _ = val.(string)
		case "entity_count":
			if n, ok := val.(float64); ok {
				md.EntityCount = int(n)
			}
		case "record_count":
			if n, ok := val.(float64); ok {
				md.RecordCount = int64(n)
			}
		case "format_version":
			if n, ok := val.(float64); ok {
				md.FormatVersion = int(n)
			}
		default:
			warnings = append(warnings, fmt.Sprintf("metadata: unknown field %q dropped", key))
		}
	}
	return md, warnings
}

func parseRecordObject(entity string, index int, raw map[string]any) (codec.PortableRecord, []string) {
	pr := codec.PortableRecord{Model: entity, Fields: map[string]any{}}
	var warnings []string
	for key, val := range raw {
		switch key {
		case "model":
			if s, ok := val.(string); ok && s != "" {
				pr.Model = s
			}
		case "pk":
			pr.PK = val
		case "fields":
			if m, ok := val.(map[string]any); ok {
				pr.Fields = m
			}
		default:
			warnings = append(warnings, fmt.Sprintf("%s record %d: unknown field %q dropped", entity, index, key))
		}
	}
	return pr, warnings
}

func splitQualified(name string) (ns, local string, ok bool) {
	i := strings.Index(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
