// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/biokb/proteinkb/pkg/types"
)

// QueryOptions holds parameters for knowledge base queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string.
	Query string

	// Endpoint filters by canonical endpoint (kcat, IC50, ...).
	Endpoint string

	// PMID filters by source article.
	PMID string

	// Direction filters by derived direction (increase, decrease,
	// no_change).
	Direction string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Endpoint == "" && q.PMID == "" && q.Direction == ""
}

// QueryResult is an outcome record with its index identifier.
type QueryResult struct {
	ID                  string `json:"id" yaml:"id"`
	types.OutcomeRecord `yaml:",inline"`
}

// Retrieve queries the knowledge base with optional full-text search
// and structured filters. Full-text queries rank by relevance;
// structured-only queries sort by pmid, table, variant.
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
			`SELECT r.id, r.record
			FROM records_fts
			JOIN records r ON r.rowid = records_fts.rowid
			WHERE records_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT r.id, r.record
			FROM records r
			WHERE 1=1`)
	}

	if opts.Endpoint != "" {
		qb.WriteString(` AND r.endpoint = ?`)
		args = append(args, opts.Endpoint)
	}
	if opts.PMID != "" {
		qb.WriteString(` AND r.pmid = ?`)
		args = append(args, opts.PMID)
	}
	if opts.Direction != "" {
		qb.WriteString(` AND r.direction = ?`)
		args = append(args, opts.Direction)
	}

	if useFTS {
		qb.WriteString(` ORDER BY records_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY r.pmid, r.table_id, r.variant`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var qr QueryResult
		var raw string
		if err := rows.Scan(&qr.ID, &raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &qr.OutcomeRecord); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", qr.ID, err)
		}
		results = append(results, qr)
	}

	return results, rows.Err()
}

// Get returns one record by its index identifier.
func (s *Store) Get(ctx context.Context, id string) (QueryResult, error) {
	var qr QueryResult
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, record FROM records WHERE id = ?`, id,
	).Scan(&qr.ID, &raw)
	if err == sql.ErrNoRows {
		return qr, fmt.Errorf("record %s not found", id)
	}
	if err != nil {
		return qr, fmt.Errorf("looking up record: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &qr.OutcomeRecord); err != nil {
		return qr, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return qr, nil
}
