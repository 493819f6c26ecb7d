// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package backup

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/codec"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// metadataSheet holds backup metadata as key/value rows.
const metadataSheet = "Backup Info"

// maxSheetNameLen is the spreadsheet format's hard limit on sheet names.
const maxSheetNameLen = 31

const idColumn = "ID"

var sheetNameReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_", ".", "_",
)

// SanitizeSheetName maps a qualified entity name onto a legal sheet name:
// forbidden characters become underscores and the result is capped at 31
// characters. Names already taken get a numeric suffix.
func SanitizeSheetName(qualified string, taken map[string]bool) string {
	// The 31-character cap counts characters, not bytes, so truncation
	// works on runes to keep multibyte names intact.
	name := []rune(sheetNameReplacer.Replace(qualified))
	if len(name) > maxSheetNameLen {
		name = name[:maxSheetNameLen]
	}
	if !taken[string(name)] {
		return string(name)
	}
	for i := 1; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := name
		if len(base)+len(suffix) > maxSheetNameLen {
			base = base[:maxSheetNameLen-len(suffix)]
		}
		candidate := string(base) + suffix
		if !taken[candidate] {
			return candidate
		}
	}
}

// WriteWorkbook renders the document as a workbook: one metadata sheet plus
// one sheet per entity with an ID column followed by the entity's fields in
// catalog order.
func WriteWorkbook(w io.Writer, doc *Document, catalog *schema.Catalog) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", metadataSheet)
	if err := writeMetadataSheet(f, doc.Metadata); err != nil {
		return err
	}

	taken := map[string]bool{metadataSheet: true}
	for _, es := range doc.Entities {
		e, err := catalog.Lookup(es.Entity)
		if err != nil {
			return fmt.Errorf("workbook: %w", err)
		}
		sheet := SanitizeSheetName(es.Entity, taken)
		taken[sheet] = true
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("workbook: create sheet %q: %w", sheet, err)
		}
		if err := writeEntitySheet(f, sheet, e, es.Records); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("workbook: write: %w", err)
	}
	return nil
}

func writeMetadataSheet(f *excelize.File, md Metadata) error {
	rows := [][]string{
		{"Key", "Value"},
		{"Name", md.Name},
		{"Created At", md.CreatedAt.UTC().Format(time.RFC3339)},
		{"Created By", md.CreatedBy},
		{"Entity Count", strconv.Itoa(md.EntityCount)},
		{"Record Count", strconv.FormatInt(md.RecordCount, 10)},
		{"Format Version", strconv.Itoa(md.FormatVersion)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(metadataSheet, cell, &row); err != nil {
			return fmt.Errorf("workbook: metadata row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeEntitySheet(f *excelize.File, sheet string, e *schema.EntityType, records []codec.PortableRecord) error {
	header := make([]string, 0, len(e.Fields)+1)
	header = append(header, idColumn)
	for _, fd := range e.Fields {
		header = append(header, fd.Name)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("workbook: header for %q: %w", sheet, err)
	}

	for i, pr := range records {
		row := make([]string, 0, len(header))
		row = append(row, formatCell(pr.PK))
		for _, fd := range e.Fields {
			row = append(row, formatCell(pr.Fields[fd.Name]))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("workbook: row %d of %q: %w", i+2, sheet, err)
		}
	}
	return nil
}

// formatCell renders a portable value as cell text. Reference sets are kept
// as JSON arrays so the cell survives a round trip.
func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ParseWorkbook reads a workbook back into a Document. Sheet names are
// mapped back to entity types via the catalog; sheets that resolve to no
// known entity are skipped with a warning.
func ParseWorkbook(r io.Reader, catalog *schema.Catalog) (*Document, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse workbook: %w", err)
	}
	defer f.Close()

	var warnings []string
	doc := &Document{Metadata: Metadata{FormatVersion: FormatVersion}}

	for _, sheet := range f.GetSheetList() {
		if sheet == metadataSheet {
			parseMetadataSheet(f, &doc.Metadata)
			continue
		}
		entity, exact, ok := ResolveSheetEntity(sheet, catalog)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("sheet %q: no matching entity type, skipped", sheet))
			continue
		}
		if !exact {
			warnings = append(warnings, fmt.Sprintf("sheet %q: resolved to %q heuristically", sheet, entity))
		}
		e, err := catalog.Lookup(entity)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q: %v, skipped", sheet, err))
			continue
		}
		records, sheetWarnings, err := parseEntitySheet(f, sheet, e)
		if err != nil {
			return nil, warnings, err
		}
		warnings = append(warnings, sheetWarnings...)
		doc.Append(entity, records...)
	}
	return doc, warnings, nil
}

func parseMetadataSheet(f *excelize.File, md *Metadata) {
	rows, err := f.GetRows(metadataSheet)
	if err != nil {
		return
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		switch row[0] {
		case "Name":
			md.Name = row[1]
		case "Created At":
			if t, err := time.Parse(time.RFC3339, row[1]); err == nil {
				md.CreatedAt = t
			}
		case "Created By":
			md.CreatedBy = row[1]
		case "Entity Count":
			md.EntityCount, _ = strconv.Atoi(row[1])
		case "Record Count":
			md.RecordCount, _ = strconv.ParseInt(row[1], 10, 64)
		case "Format Version":
			md.FormatVersion, _ = strconv.Atoi(row[1])
		}
	}
}

func parseEntitySheet(f *excelize.File, sheet string, e *schema.EntityType) ([]codec.PortableRecord, []string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("parse workbook: sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	header := rows[0]
	var warnings []string
	known := make(map[string]schema.FieldDescriptor, len(e.Fields))
	for _, fd := range e.Fields {
		known[fd.Name] = fd
	}

	records := make([]codec.PortableRecord, 0, len(rows)-1)
	for rowIdx, row := range rows[1:] {
		pr := codec.PortableRecord{Model: e.QualifiedName(), Fields: map[string]any{}}
		for colIdx, col := range header {
			var cell string
			if colIdx < len(row) {
				cell = row[colIdx]
			}
			if colIdx == 0 && col == idColumn {
				if cell != "" {
					pr.PK = cell
				}
				continue
			}
			fd, ok := known[col]
			if !ok {
				if cell != "" {
					warnings = append(warnings, fmt.Sprintf("sheet %q row %d: unknown column %q dropped", sheet, rowIdx+2, col))
				}
				continue
			}
			pr.Fields[fd.Name] = parseCell(fd, cell)
		}
		if pr.PK == nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q row %d: missing ID, skipped", sheet, rowIdx+2))
			continue
		}
		records = append(records, pr)
	}
	return records, warnings, nil
}

// parseCell converts cell text back into a portable value. Empty cells map
// to null; reference set cells carry JSON arrays.
func parseCell(fd schema.FieldDescriptor, cell string) any {
	if cell == "" {
		return nil
	}
	if fd.Kind == schema.KindReferenceSet {
		var list []any
		if err := json.Unmarshal([]byte(cell), &list); err == nil {
			return list
		}
		return []any{cell}
	}
	return cell
}

// ResolveSheetEntity maps a sanitized sheet name back to a qualified entity
// name. Sanitization is lossy, so each underscore is tried as the namespace
// separator in turn; dedupe suffixes and truncation are handled by
// best-effort fallbacks, reported via exact=false so callers can flag them.
func ResolveSheetEntity(sheet string, catalog *schema.Catalog) (entity string, exact, ok bool) {
	// Direct reconstruction: try every underscore as the dot position.
	for i := 0; i < len(sheet); i++ {
		if sheet[i] != '_' {
			continue
		}
		candidate := sheet[:i] + "." + sheet[i+1:]
		if _, err := catalog.Lookup(candidate); err == nil {
			return candidate, true, true
		}
	}

	// Strip a trailing numeric dedupe suffix and retry.
	if base, stripped := stripNumericSuffix(sheet); stripped {
		if entity, _, found := ResolveSheetEntity(base, catalog); found {
			return entity, false, true
		}
	}

	// Truncated names: match any entity whose sanitized form starts with
	// the sheet name.
	for _, e := range catalog.AllEntityTypes() {
		sanitized := sheetNameReplacer.Replace(e.QualifiedName())
		if len(sanitized) > maxSheetNameLen {
			sanitized = sanitized[:maxSheetNameLen]
		}
		if sanitized == sheet || strings.HasPrefix(sanitized, sheet) {
			return e.QualifiedName(), false, true
		}
	}
	return "", false, false
}

func stripNumericSuffix(sheet string) (string, bool) {
	i := strings.LastIndex(sheet, "_")
	if i <= 0 || i == len(sheet)-1 {
		return "", false
	}
	if _, err := strconv.Atoi(sheet[i+1:]); err != nil {
		return "", false
	}
	return sheet[:i], true
}
