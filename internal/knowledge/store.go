// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge persists extracted outcome records and builds a
// full-text retrieval index over them.
package knowledge

import (
	"bufio"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/biokb/proteinkb/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "proteinkb.db"
)

// Store manages the knowledge base SQLite database.
type Store struct {
	db           *sql.DB
	knowledgeDir string
	maxResults   int
}

// NewStore opens or creates the knowledge base database at
// knowledgeDir/index/proteinkb.db, creating the schema if needed.
func NewStore(cfg types.KnowledgeConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.KnowledgeDir, indexDir)
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
		db:           db,
		knowledgeDir: cfg.KnowledgeDir,
		maxResults:   maxResults,
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
		`CREATE TABLE IF NOT EXISTS records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			pmid TEXT NOT NULL,
			table_id TEXT,
			variant TEXT,
			endpoint TEXT,
			assay_type TEXT,
			direction TEXT,
			content TEXT NOT NULL,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_pmid ON records(pmid)`,
		`CREATE INDEX IF NOT EXISTS idx_records_endpoint ON records(endpoint)`,
		`CREATE TABLE IF NOT EXISTS ingest_status (
			source TEXT PRIMARY KEY,
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
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='records_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE records_fts USING fts5(content, content=records, content_rowid=rowid)`,
			`CREATE TRIGGER records_ai AFTER INSERT ON records BEGIN
				INSERT INTO records_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER records_ad AFTER DELETE ON records BEGIN
				INSERT INTO records_fts(records_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			END`,
			`CREATE TRIGGER records_au AFTER UPDATE ON records BEGIN
				INSERT INTO records_fts(records_fts, rowid, content) VALUES('delete', old.rowid, old.content);
				INSERT INTO records_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// IngestSummary holds counts from an indexing run.
type IngestSummary struct {
	Indexed int
	Skipped bool
	Failed  int
}

// Ingest loads a kb.records.jsonl file into the index. An unchanged
// file (by modification time) is skipped; a changed one replaces every
// record previously ingested from that source in one transaction.
func (s *Store) Ingest(ctx context.Context, recordsPath string, w io.Writer) (IngestSummary, error) {
	var summary IngestSummary

	info, err := os.Stat(recordsPath)
	if err != nil {
		return summary, fmt.Errorf("reading %s: %w", recordsPath, err)
	}
	modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

	var storedModTime string
	err = s.db.QueryRowContext(ctx,
		`SELECT file_mod_time FROM ingest_status WHERE source = ?`, recordsPath,
	).Scan(&storedModTime)
	if err == nil && storedModTime == modTime {
		fmt.Fprintf(w, "skipped %s (unchanged)\n", filepath.Base(recordsPath))
		summary.Skipped = true
		return summary, nil
	}

	records, failed, err := readRecords(recordsPath, w)
	if err != nil {
		return summary, err
	}
	summary.Failed = failed

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// A changed source replaces the whole index: the extraction file is
	// the system of record, the database only serves retrieval.
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return summary, fmt.Errorf("clearing old records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (id, pmid, table_id, variant, endpoint, assay_type, direction, content, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return summary, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return summary, fmt.Errorf("encoding record: %w", err)
		}
		variant := rec.Variant.NormalizedHGVSP
		if variant == "" {
			variant = rec.Variant.Raw
		}
		_, err = stmt.ExecContext(ctx,
			recordID(raw), rec.Source.PMID, rec.Source.TableID, variant,
			rec.Assay.Endpoint, rec.Assay.Type, rec.Derived.Direction,
			searchText(rec), string(raw),
		)
		if err != nil {
			return summary, fmt.Errorf("inserting record for %s: %w", rec.Source.PMID, err)
		}
		summary.Indexed++
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_status (source, file_mod_time) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		recordsPath, modTime,
	); err != nil {
		return summary, fmt.Errorf("updating ingest status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("committing: %w", err)
	}

	fmt.Fprintf(w, "indexed %d records from %s (%d unparseable lines)\n",
		summary.Indexed, filepath.Base(recordsPath), summary.Failed)
	return summary, nil
}

func readRecords(path string, w io.Writer) ([]types.OutcomeRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []types.OutcomeRecord
	failed := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec types.OutcomeRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			fmt.Fprintf(w, "warning: %s line %d: %v\n", filepath.Base(path), line, err)
			failed++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, failed, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, failed, nil
}

// recordID derives a stable identifier from the record's canonical JSON
// form, so re-ingesting an unchanged extraction produces the same ids.
func recordID(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:8])
}

// searchText flattens the searchable fields of a record into one FTS
// document.
func searchText(rec types.OutcomeRecord) string {
	parts := []string{
		rec.Protein.QueryName,
		strings.Join(rec.Protein.Synonyms, " "),
		rec.Source.PMID,
		rec.Source.Caption,
		rec.Variant.Raw,
		rec.Variant.NormalizedHGVSP,
		rec.Variant.Type,
		rec.Assay.Endpoint,
		rec.Assay.Type,
		rec.Assay.Unit,
		rec.Derived.Direction,
	}
	var sb strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(p)
		}
	}
	return sb.String()
}
