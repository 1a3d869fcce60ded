// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog persists extracted program listings and builds a
// full-text retrieval index over them. The schema uses an FTS5 virtual
// table, so the binary and tests must be built with the sqlite_fts5 tag
// (see the mage Build and Test targets).
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/retrolab/basicscan/internal/locate"
	"github.com/retrolab/basicscan/pkg/types"
)

const (
	indexDir   = "index"
	sourceDir  = "src"
	dbFile     = "catalog.db"
	mdSuffix   = ".md"
	titleLines = 2
)

// Store manages the program catalog SQLite database.
type Store struct {
	db          *sql.DB
	catalogDir  string
	listingsDir string
	maxResults  int
}

// NewStore opens or creates the catalog database at
// catalogDir/index/catalog.db. It creates the schema if it does not
// exist.
func NewStore(cfg types.CatalogConfig, listingsDir string) (*Store, error) {
	dbDir := filepath.Join(cfg.CatalogDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{
		db:          db,
		catalogDir:  cfg.CatalogDir,
		listingsDir: listingsDir,
		maxResults:  maxResults,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS programs (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT,
			pages TEXT NOT NULL,
			source TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_programs_name ON programs(name)`,
		`CREATE TABLE IF NOT EXISTS indexing_status (
			slug TEXT PRIMARY KEY,
			file_mod_time TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='programs_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE programs_fts USING fts5(name, description, source, content=programs, content_rowid=rowid)`,
			`CREATE TRIGGER programs_ai AFTER INSERT ON programs BEGIN
				INSERT INTO programs_fts(rowid, name, description, source)
				VALUES (new.rowid, new.name, new.description, new.source);
			END`,
			`CREATE TRIGGER programs_ad AFTER DELETE ON programs BEGIN
				INSERT INTO programs_fts(programs_fts, rowid, name, description, source)
				VALUES('delete', old.rowid, old.name, old.description, old.source);
			END`,
			`CREATE TRIGGER programs_au AFTER UPDATE ON programs BEGIN
				INSERT INTO programs_fts(programs_fts, rowid, name, description, source)
				VALUES('delete', old.rowid, old.name, old.description, old.source);
				INSERT INTO programs_fts(rowid, name, description, source)
				VALUES (new.rowid, new.name, new.description, new.source);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure (requires a sqlite_fts5 build): %w", err)
			}
		}
	}

	return nil
}

// IngestSummary holds counts from a catalog indexing run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of listings processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest reads saved listings from listingsDir/src/ and populates the
// database, joining each file with program metadata from programs.json.
// Unchanged files (by modification time) are skipped so repeated runs
// only reindex what changed. On success it refreshes export.yaml.
func (s *Store) Ingest(ctx context.Context, w io.Writer) (IngestSummary, error) {
	srcDir := filepath.Join(s.listingsDir, sourceDir)

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading listings directory %s: %w", srcDir, err)
	}

	programs := loadProgramMetadata(s.listingsDir)

	var summary IngestSummary

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), mdSuffix) {
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		slug := strings.TrimSuffix(entry.Name(), mdSuffix)
		filePath := filepath.Join(srcDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", slug, err)
			summary.Failed++
			continue
		}
		modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

		var storedModTime string
		err = s.db.QueryRowContext(ctx,
			`SELECT file_mod_time FROM indexing_status WHERE slug = ?`, slug,
		).Scan(&storedModTime)

		if err == nil && storedModTime == modTime {
			fmt.Fprintf(w, "skipped %s\n", slug)
			summary.Skipped++
			continue
		}

		isUpdate := err == nil

		data, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", slug, err)
			summary.Failed++
			continue
		}

		name, source := splitListing(string(data))
		prog, ok := programs[slug]
		if ok {
			name = prog.Name
		} else if name == "" {
			name = slug
		}

		if err := s.ingestListing(ctx, slug, name, prog, source, modTime, isUpdate); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", slug, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s\n", slug)
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexing %s\n", slug)
			summary.Indexed++
		}
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	// Refresh the export after anything changed.
	if summary.Indexed > 0 || summary.Updated > 0 {
		if err := s.ExportYAML(ctx, QueryOptions{}); err != nil {
			fmt.Fprintf(w, "warning: export.yaml write failed: %v\n", err)
		}
	}

	return summary, nil
}

func (s *Store) ingestListing(ctx context.Context, slug, name string, prog types.Program, source, modTime string, isUpdate bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	pagesJSON, _ := json.Marshal(prog.Pages)
	if prog.Pages == nil {
		pagesJSON = []byte("[]")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO programs (slug, name, description, pages, source)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			pages=excluded.pages, source=excluded.source`,
		slug, name, prog.Description, string(pagesJSON), source,
	)
	if err != nil {
		return fmt.Errorf("upserting program: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO indexing_status (slug, file_mod_time) VALUES (?, ?)
		 ON CONFLICT(slug) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		slug, modTime,
	)
	if err != nil {
		return fmt.Errorf("updating indexing status: %w", err)
	}

	return tx.Commit()
}

// splitListing separates the title header written by the extraction
// stage from the source body. Files without a header index as-is.
func splitListing(content string) (name, source string) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "# ") {
		return "", trimmed
	}
	parts := strings.SplitN(trimmed, "\n", titleLines)
	name = strings.TrimSpace(strings.TrimPrefix(parts[0], "# "))
	if len(parts) < titleLines {
		return name, ""
	}
	return name, strings.TrimSpace(parts[1])
}

// loadProgramMetadata reads programs.json from the listings directory
// and keys the programs by slug. Returns an empty map if the file is
// missing or unreadable so that listings still index without metadata.
func loadProgramMetadata(listingsDir string) map[string]types.Program {
	bySlug := make(map[string]types.Program)
	path := filepath.Join(listingsDir, locate.ListFileName)
	list, err := locate.LoadProgramList(path)
	if err != nil {
		return bySlug
	}
	for _, prog := range list.Programs {
		bySlug[prog.Slug()] = prog
	}
	return bySlug
}
