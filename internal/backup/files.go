// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// fileTimestampLayout keeps backup file names sortable by creation time.
const fileTimestampLayout = "20060102_150405"

// FileInfo describes one backup file on disk.
type FileInfo struct {
	Name      string    `json:"name"`
	Format    Format    `json:"format"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository manages the fixed backups directory: one file per operation,
// named with a timestamp suffix and the extension matching the format.
type Repository struct {
	dir string
}

// NewRepository creates the backups directory if needed.
func NewRepository(dir string) (*Repository, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup repository: directory not set")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup repository: create %s: %w", dir, err)
	}
	return &Repository{dir: dir}, nil
}

// Dir returns the backups directory path.
func (r *Repository) Dir() string { return r.dir }

// Save writes the document under a fresh timestamped name and returns the
// file name.
func (r *Repository) Save(doc *Document, format Format, catalog *schema.Catalog, now time.Time) (string, error) {
	name := fmt.Sprintf("backup_%s%s", now.UTC().Format(fileTimestampLayout), format.Extension())
	path := filepath.Join(r.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("backup repository: create %s: %w", name, err)
	}
	defer f.Close()

	switch format {
	case FormatTabular:
		err = WriteWorkbook(f, doc, catalog)
	default:
		err = WriteDocument(f, doc)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("backup repository: sync %s: %w", name, err)
	}
	return name, nil
}

// Open reads a previously saved backup back into a Document. The format is
// derived from the file extension.
func (r *Repository) Open(name string, catalog *schema.Catalog) (*Document, []string, error) {
	path, err := r.resolve(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("backup repository: open %s: %w", name, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ParseWorkbook(f, catalog)
	}
	return ParseDocument(f)
}

// Stat describes one stored backup by name.
func (r *Repository) Stat(name string) (FileInfo, error) {
	path, err := r.resolve(name)
	if err != nil {
		return FileInfo{}, err
	}
	format, ok := formatForExt(filepath.Ext(name))
	if !ok {
		return FileInfo{}, fmt.Errorf("backup repository: unsupported backup file %q", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("backup repository: stat %s: %w", name, err)
	}
	return FileInfo{
		Name:      name,
		Format:    format,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// List returns the stored backups, newest first.
func (r *Repository) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("backup repository: list: %w", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := formatForExt(filepath.Ext(entry.Name()))
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:      entry.Name(),
			Format:    format,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// resolve rejects names that escape the backups directory.
func (r *Repository) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("backup repository: invalid backup name %q", name)
	}
	return filepath.Join(r.dir, name), nil
}

func formatForExt(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".json":
		return FormatDocument, true
	case ".xlsx":
		return FormatTabular, true
	default:
		return "", false
	}
}
