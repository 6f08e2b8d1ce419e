// Package corpus reads the extractor interchange layout: a manifest at the
// root, one directory per unit type, and one JSON record per unit with a
// per-type _index.json listing.
package corpus

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/unit"
)

// ManifestFile is the name of the root manifest.
const ManifestFile = "manifest.json"

// IndexFile is the per-type listing inside each type directory.
const IndexFile = "_index.json"

// Manifest describes one extractor run.
type Manifest struct {
	ExtractedAt time.Time      `json:"extracted_at"`
	Counts      map[string]int `json:"counts"`
	TotalUnits  int            `json:"total_units"`
	GitSHA      string         `json:"git_sha,omitempty"`
	GitBranch   string         `json:"git_branch,omitempty"`
}

// IndexEntry names one unit record inside a type directory.
type IndexEntry struct {
	Identifier string `json:"identifier"`
	File       string `json:"file"`
}

// TypeIndex is the _index.json payload.
type TypeIndex struct {
	Type  string       `json:"type"`
	Count int          `json:"count"`
	Units []IndexEntry `json:"units"`
}

// Loader reads units from an extractor output directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Dir returns the corpus root.
func (l *Loader) Dir() string { return l.dir }

// Manifest reads the root manifest. A missing file is reported with a
// dedicated code so callers can distinguish "never extracted" from a
// broken corpus.
func (l *Loader) Manifest() (*Manifest, error) {
	return LoadManifest(l.dir)
}

// LoadManifest reads <dir>/manifest.json.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.New(cerrors.ErrCodeManifestMissing,
				"no manifest found; run the extractor first", err)
		}
		return nil, cerrors.Wrap(cerrors.ErrCodeFilePermission, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "malformed manifest", err)
	}
	return &m, nil
}

// LoadAll reads every unit record under the corpus root. Malformed or
// incomplete records are logged and skipped; extraction is allowed to be
// partially broken without blocking indexing. Units come back sorted by
// identifier for deterministic indexing order.
func (l *Loader) LoadAll() ([]*unit.Unit, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileNotFound, "corpus directory unreadable", err)
	}

	var units []*unit.Unit
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		loaded, err := l.loadTypeDir(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		units = append(units, loaded...)
	}

	sort.Slice(units, func(i, j int) bool {
		return units[i].Identifier < units[j].Identifier
	})
	return units, nil
}

// LoadType reads the units of a single type.
func (l *Loader) LoadType(t unit.Type) ([]*unit.Unit, error) {
	dir := filepath.Join(l.dir, TypeDir(t))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	return l.loadTypeDir(dir)
}

// loadTypeDir reads one type directory, following _index.json when present
// and falling back to a directory scan.
func (l *Loader) loadTypeDir(dir string) ([]*unit.Unit, error) {
	files, err := l.recordFiles(dir)
	if err != nil {
		return nil, err
	}

	var units []*unit.Unit
	for _, file := range files {
		u, err := l.loadUnit(filepath.Join(dir, file))
		if err != nil {
			l.logger.Warn("skipping malformed unit record",
				"file", filepath.Join(dir, file), "error", err)
			continue
		}
		units = append(units, u)
	}
	return units, nil
}

func (l *Loader) recordFiles(dir string) ([]string, error) {
	if data, err := os.ReadFile(filepath.Join(dir, IndexFile)); err == nil {
		var idx TypeIndex
		if err := json.Unmarshal(data, &idx); err == nil {
			files := make([]string, 0, len(idx.Units))
			for _, e := range idx.Units {
				files = append(files, e.File)
			}
			return files, nil
		}
		l.logger.Warn("malformed type index, scanning directory", "dir", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeFileNotFound, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "_") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) loadUnit(path string) (*unit.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var u unit.Unit
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "unit record does not parse", err)
	}
	if u.Identifier == "" {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "unit record has no identifier", nil)
	}
	u.Fingerprint()
	return &u, nil
}

// TypeDir maps a unit type to its directory name, e.g. model -> models.
func TypeDir(t unit.Type) string {
	name := string(t)
	switch {
	case name == "":
		return "units"
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}

// SafeIdentifier converts a unit identifier to a filesystem-safe stem,
// mirroring the extractor's naming: namespace separators and anything
// non-alphanumeric become underscores.
func SafeIdentifier(identifier string) string {
	var b strings.Builder
	for _, r := range identifier {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if s := b.String(); !strings.HasSuffix(s, "_") {
				b.WriteByte('_')
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// Writer lays units down in the interchange format. It exists for tests
// and for mirroring a corpus; the primary producer is the extractor.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

// Write stores the units and the manifest, grouped by type with per-type
// indexes.
func (w *Writer) Write(units []*unit.Unit) error {
	byType := make(map[unit.Type][]*unit.Unit)
	for _, u := range units {
		byType[u.Type] = append(byType[u.Type], u)
	}

	counts := make(map[string]int, len(byType))
	for t, group := range byType {
		dir := filepath.Join(w.dir, TypeDir(t))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		sort.Slice(group, func(i, j int) bool { return group[i].Identifier < group[j].Identifier })
		idx := TypeIndex{Type: string(t), Count: len(group)}
		for _, u := range group {
			file := SafeIdentifier(u.Identifier) + ".json"
			if err := writeJSON(filepath.Join(dir, file), u); err != nil {
				return err
			}
			idx.Units = append(idx.Units, IndexEntry{Identifier: u.Identifier, File: file})
		}
		if err := writeJSON(filepath.Join(dir, IndexFile), idx); err != nil {
			return err
		}
		counts[string(t)] = len(group)
	}

	return writeJSON(filepath.Join(w.dir, ManifestFile), Manifest{
		ExtractedAt: time.Now().UTC(),
		Counts:      counts,
		TotalUnits:  len(units),
	})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
