// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/biokb/proteinkb/pkg/types"
)

// Summary holds counts from one harvest run.
type Summary struct {
	Term     string
	PMIDs    int
	Articles int
}

// Run executes a full harvest: term build, pmid collection, metadata
// fetch, and the three output files (<prefix>.pubmed.jsonl, .pubmed.csv,
// .pubmed.pmids.txt).
func (h *Harvester) Run(ctx context.Context, cfg types.HarvestConfig, synonyms []string, w io.Writer) (Summary, error) {
	term := BuildTerm(synonyms, cfg.Field)
	summary := Summary{Term: term}
	fmt.Fprintf(w, "Harvesting PubMed: %s\n", term)

	needN := cfg.MaxResults
	if needN <= 0 {
		// No cap requested: take everything PubMed will return.
		total, err := h.Count(ctx, term, "", "")
		if err != nil {
			return summary, err
		}
		needN = total
	}
	if needN == 0 {
		fmt.Fprintln(w, "No results.")
		return summary, nil
	}

	pmids, err := h.CollectLatest(ctx, term, needN, w)
	if err != nil {
		return summary, err
	}
	summary.PMIDs = len(pmids)
	if len(pmids) == 0 {
		fmt.Fprintln(w, "No results.")
		return summary, nil
	}

	articles, err := h.Fetch(ctx, pmids, w)
	if err != nil {
		return summary, err
	}
	summary.Articles = len(articles)

	if dir := filepath.Dir(cfg.OutPrefix); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := saveJSONL(articles, cfg.OutPrefix+".pubmed.jsonl"); err != nil {
		return summary, err
	}
	if err := saveCSV(articles, cfg.OutPrefix+".pubmed.csv"); err != nil {
		return summary, err
	}
	if err := savePMIDs(articles, cfg.OutPrefix+".pubmed.pmids.txt"); err != nil {
		return summary, err
	}

	fmt.Fprintf(w, "\nHarvest done: %d pmids, %d articles saved to %s.pubmed.*\n",
		summary.PMIDs, summary.Articles, cfg.OutPrefix)
	return summary, nil
}

func saveJSONL(articles []types.Article, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, a := range articles {
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return f.Close()
}

func saveCSV(articles []types.Article, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"PMID", "Title", "Journal", "Year", "DOI", "Authors", "URL", "Abstract"}); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	for _, a := range articles {
		year := ""
		if a.Year != 0 {
			year = strconv.Itoa(a.Year)
		}
		row := []string{a.PMID, a.Title, a.Journal, year, a.DOI,
			strings.Join(a.Authors, "; "), a.URL, a.Abstract}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func savePMIDs(articles []types.Article, path string) error {
	var sb strings.Builder
	for _, a := range articles {
		if a.PMID != "" {
			sb.WriteString(a.PMID)
			sb.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
