// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// QueryOptions holds parameters for catalog queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string, matched against
	// program names, descriptions, and source text.
	Query string

	// Page filters to programs printed on the given page.
	Page int

	// Slug filters by program slug.
	Slug string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Page == 0 && q.Slug == ""
}

// QueryResult is one catalog entry with its indexed metadata.
type QueryResult struct {
	Slug        string `json:"slug" yaml:"slug"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Pages       []int  `json:"pages" yaml:"pages"`
	Source      string `json:"source" yaml:"source"`
}

// Retrieve queries the catalog with optional full-text search and
// structured filters. Results are ranked by relevance for full-text
// queries or sorted by name for structured-only queries.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT p.slug, p.name, p.description, p.pages, p.source, programs_fts.rank
			FROM programs_fts
			JOIN programs p ON p.rowid = programs_fts.rowid
			WHERE programs_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT p.slug, p.name, p.description, p.pages, p.source, 0 AS rank
			FROM programs p
			WHERE 1=1`)
	}

	if opts.Slug != "" {
		qb.WriteString(` AND p.slug = ?`)
		args = append(args, opts.Slug)
	}

	if opts.Page != 0 {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(p.pages) WHERE value = ?)`)
		args = append(args, opts.Page)
	}

	if useFTS {
		qb.WriteString(` ORDER BY programs_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY p.name`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr        QueryResult
			desc      sql.NullString
			pagesJSON string
			rank      float64
		)

		if err := rows.Scan(&qr.Slug, &qr.Name, &desc, &pagesJSON, &qr.Source, &rank); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if desc.Valid {
			qr.Description = desc.String
		}
		json.Unmarshal([]byte(pagesJSON), &qr.Pages)

		results = append(results, qr)
	}

	return results, rows.Err()
}
