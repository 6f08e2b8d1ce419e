package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/codectx/codectx/internal/unit"
)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS units (
	identifier       TEXT PRIMARY KEY,
	identifier_lower TEXT NOT NULL,
	tail_lower       TEXT NOT NULL,
	type             TEXT NOT NULL,
	namespace        TEXT NOT NULL DEFAULT '',
	file_path        TEXT NOT NULL DEFAULT '',
	source_code      TEXT NOT NULL,
	source_hash      TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	metadata         TEXT NOT NULL DEFAULT '{}',
	dependencies     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_units_type ON units(type);
CREATE INDEX IF NOT EXISTS idx_units_identifier_lower ON units(identifier_lower);
CREATE INDEX IF NOT EXISTS idx_units_tail_lower ON units(tail_lower);
`

// SQLiteMetadataStore persists unit records in SQLite via modernc.org/sqlite
// (pure Go, no CGO).
type SQLiteMetadataStore struct {
	db *sql.DB
}

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// Pass ":memory:" for an ephemeral store.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		// WAL must be set via PRAGMA for modernc.org/sqlite.
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply %s: %w", pragma, err)
			}
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create metadata schema: %w", err)
	}

	return &SQLiteMetadataStore{db: db}, nil
}

func (s *SQLiteMetadataStore) Upsert(ctx context.Context, u *unit.Unit) error {
	return s.UpsertBatch(ctx, []*unit.Unit{u})
}

func (s *SQLiteMetadataStore) UpsertBatch(ctx context.Context, units []*unit.Unit) error {
	if len(units) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (
			identifier, identifier_lower, tail_lower, type, namespace,
			file_path, source_code, source_hash, estimated_tokens, metadata, dependencies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			identifier_lower = excluded.identifier_lower,
			tail_lower       = excluded.tail_lower,
			type             = excluded.type,
			namespace        = excluded.namespace,
			file_path        = excluded.file_path,
			source_code      = excluded.source_code,
			source_hash      = excluded.source_hash,
			estimated_tokens = excluded.estimated_tokens,
			metadata         = excluded.metadata,
			dependencies     = excluded.dependencies`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		metaJSON, err := json.Marshal(orEmptyMap(u.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", u.Identifier, err)
		}
		depsJSON, err := json.Marshal(orEmptyDeps(u.Dependencies))
		if err != nil {
			return fmt.Errorf("marshal dependencies for %s: %w", u.Identifier, err)
		}

		lower := strings.ToLower(u.Identifier)
		if _, err := stmt.ExecContext(ctx,
			u.Identifier, lower, namespaceTail(lower), string(u.Type), u.Namespace,
			u.FilePath, u.SourceCode, u.SourceHash, u.EstimatedTokens,
			string(metaJSON), string(depsJSON),
		); err != nil {
			return fmt.Errorf("upsert unit %s: %w", u.Identifier, err)
		}
	}

	return tx.Commit()
}

const unitColumns = `identifier, type, namespace, file_path, source_code,
	source_hash, estimated_tokens, metadata, dependencies`

func (s *SQLiteMetadataStore) Get(ctx context.Context, identifier string) (*unit.Unit, error) {
	lower := strings.ToLower(strings.TrimSpace(identifier))
	if lower == "" {
		return nil, ErrNotFound
	}

	// Exact first, then case-insensitive, then namespace-tail. Each tier is
	// deterministic: ties resolve to the lexicographically smallest identifier.
	queries := []struct {
		where string
		arg   string
	}{
		{"identifier = ?", identifier},
		{"identifier_lower = ?", lower},
		{"tail_lower = ?", namespaceTail(lower)},
	}

	for _, q := range queries {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+unitColumns+` FROM units WHERE `+q.where+` ORDER BY identifier LIMIT 1`, q.arg)
		u, err := scanUnit(row)
		if err == nil {
			return u, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("lookup unit %s: %w", identifier, err)
		}
	}
	return nil, ErrNotFound
}

func (s *SQLiteMetadataStore) ByType(ctx context.Context, t unit.Type, limit int) ([]*unit.Unit, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE type = ? ORDER BY identifier LIMIT ?`,
		string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("query units by type %s: %w", t, err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *SQLiteMetadataStore) SearchSubstring(ctx context.Context, term string, limit int) ([]*unit.Unit, error) {
	lower := strings.ToLower(strings.TrimSpace(term))
	if lower == "" || limit <= 0 {
		return nil, nil
	}

	pattern := "%" + escapeLike(lower) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE identifier_lower LIKE ? ESCAPE '\'
		ORDER BY INSTR(identifier_lower, ?) ASC, identifier ASC
		LIMIT ?`, pattern, lower, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search %q: %w", term, err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *SQLiteMetadataStore) Delete(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range identifiers {
		if _, err := tx.ExecContext(ctx, `DELETE FROM units WHERE identifier = ?`, id); err != nil {
			return fmt.Errorf("delete unit %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteMetadataStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count units: %w", err)
	}
	return count, nil
}

func (s *SQLiteMetadataStore) CountByType(ctx context.Context) (map[unit.Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM units GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count units by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[unit.Type]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		counts[unit.Type(t)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*unit.Unit, error) {
	var u unit.Unit
	var typ, metaJSON, depsJSON string
	if err := row.Scan(&u.Identifier, &typ, &u.Namespace, &u.FilePath,
		&u.SourceCode, &u.SourceHash, &u.EstimatedTokens, &metaJSON, &depsJSON); err != nil {
		return nil, err
	}
	u.Type = unit.Type(typ)
	if err := json.Unmarshal([]byte(metaJSON), &u.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", u.Identifier, err)
	}
	if err := json.Unmarshal([]byte(depsJSON), &u.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies for %s: %w", u.Identifier, err)
	}
	if len(u.Metadata) == 0 {
		u.Metadata = nil
	}
	if len(u.Dependencies) == 0 {
		u.Dependencies = nil
	}
	return &u, nil
}

func scanUnits(rows *sql.Rows) ([]*unit.Unit, error) {
	var units []*unit.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// namespaceTail returns the last :: segment of an identifier.
func namespaceTail(identifier string) string {
	if idx := strings.LastIndex(identifier, "::"); idx >= 0 {
		return identifier[idx+2:]
	}
	return identifier
}

// escapeLike escapes LIKE wildcards so user terms match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyDeps(d []unit.Dependency) []unit.Dependency {
	if d == nil {
		return []unit.Dependency{}
	}
	return d
}
