// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// Default per-resource request rates (requests per second).
const (
	DefaultEPMCRPS      = 8
	DefaultOpenAlexRPS  = 5
	DefaultUnpaywallRPS = 2
)

// NewRegistry returns the limiter registry for the triage stage's
// external resources.
func NewRegistry() *httputil.Registry {
	return httputil.NewRegistry(map[string]float64{
		ResourceEPMC:      DefaultEPMCRPS,
		ResourceOpenAlex:  DefaultOpenAlexRPS,
		ResourceUnpaywall: DefaultUnpaywallRPS,
	})
}

// Summary holds counts from a triage run.
type Summary struct {
	Articles  int
	Kept      int
	Fulltexts int
}

// Runner coordinates scoring, enrichment, and open-access resolution
// over a batch of articles.
type Runner struct {
	Client *httputil.Client
	Cfg    types.TriageConfig

	// Now supplies the scoring date; tests pin it for determinism.
	Now func() time.Time

	// Strategies are optional scoring extensions (e.g. the semantic
	// strategy); the runner works with none configured.
	Strategies []Strategy
}

// LoadArticles reads a harvested JSON-lines file, skipping blank lines.
func LoadArticles(path string) ([]types.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var articles []types.Article
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var a types.Article
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, line, err)
		}
		articles = append(articles, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return articles, nil
}

// Run triages a batch: dedupe, annotation flags, bibliometric
// enrichment, then per-article scoring and gated full-text resolution.
// It writes triage.jsonl and keep.pmids.txt under cfg.OutDir.
func (r *Runner) Run(ctx context.Context, articles []types.Article, synonyms []string, w io.Writer) (Summary, error) {
	articles = dedupeByPMID(articles)
	fmt.Fprintf(w, "Loaded %d articles for triage\n", len(articles))

	threshold := r.Cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	// Phase 2: EPMC machine-annotation flags, chunked.
	var epmcIDs []string
	for _, a := range articles {
		if id := EPMCArticleID(a); id != "" {
			epmcIDs = append(epmcIDs, id)
		}
	}
	annFlags := AnnotationFlags(ctx, r.Client, epmcIDs, w)
	fmt.Fprintf(w, "EPMC annotations present for %d/%d articles\n", len(annFlags), len(epmcIDs))

	// Phase 3: bibliometric enrichment, once per batch. The resulting
	// maps are read-only from here on; per-article tasks only read them.
	enricher := &Enricher{Client: r.Client, Mailto: r.Cfg.OpenAlexMailto}
	var dois []string
	for _, a := range articles {
		dois = append(dois, a.DOI)
	}
	workMap := enricher.EnrichWorks(ctx, dois, w)
	venueMap := enricher.EnrichVenues(ctx, workMap, w)
	fmt.Fprintf(w, "Bibliometric profiles: %d works, %d venues\n", len(workMap), len(venueMap))

	syn := CompileSynonyms(synonyms)
	resolver := &Resolver{
		Client:         r.Client,
		OutDir:         r.Cfg.OutDir,
		UnpaywallEmail: r.Cfg.UnpaywallEmail,
	}

	// Phase 4: per-article tasks. Articles are independent; ordering
	// across them is unspecified and throughput is bounded by the rate
	// limiters rather than a separate semaphore.
	results := make([]types.TriageResult, len(articles))
	var wg sync.WaitGroup
	for i, a := range articles {
		wg.Add(1)
		go func(i int, a types.Article) {
			defer wg.Done()
			results[i] = r.triageOne(ctx, a, syn, now(), threshold, workMap, venueMap, annFlags, resolver, w)
		}(i, a)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return Summary{}, ctx.Err()
	}

	summary := Summary{Articles: len(results)}
	for _, res := range results {
		if res.FulltextPath != "" {
			summary.Fulltexts++
		}
		if res.Keep(threshold) {
			summary.Kept++
		}
	}

	if err := writeLedger(filepath.Join(r.Cfg.OutDir, "triage.jsonl"), results); err != nil {
		return summary, err
	}
	if err := writeKeepList(filepath.Join(r.Cfg.OutDir, "keep.pmids.txt"), results, threshold); err != nil {
		return summary, err
	}

	fmt.Fprintf(w, "\nTriage done: %d articles, %d kept, %d fulltexts saved\n",
		summary.Articles, summary.Kept, summary.Fulltexts)
	return summary, nil
}

// triageOne scores one article and, when it passes the keep predicate,
// runs the OA resolution chain. Scoring always precedes the fetch: the
// score gates the expensive network work.
func (r *Runner) triageOne(ctx context.Context, a types.Article, syn *regexp.Regexp, now time.Time, threshold int,
	workMap map[string]types.WorkProfile, venueMap map[string]types.VenueMetrics,
	annFlags map[string]bool, resolver *Resolver, w io.Writer) types.TriageResult {

	profile := workMap[a.DOI]
	sig := Signals{
		CitedByCount: profile.CitedByCount,
		IsOA:         profile.IsOA,
		Venue:        venueMap[profile.HostVenueID],
	}

	score, reasons := Score(a, syn, now, sig, r.Strategies...)
	isReview := IsReview(a.PubTypes)

	oa := profile.IsOA
	oaRoute := ""
	if oa {
		oaRoute = RouteOpenAlexFlag
	}

	result := types.TriageResult{
		PMID:           a.PMID,
		DOI:            a.DOI,
		PMCID:          a.PMCID,
		OA:             oa,
		OARoute:        oaRoute,
		Score:          score,
		Reasons:        reasons,
		HasAnnotations: annFlags[EPMCArticleID(a)],
		IsReview:       isReview,
	}

	if !isReview && score > threshold {
		res := resolver.Resolve(ctx, a, profile, oa, oaRoute, w)
		result.OA = res.OA
		result.OARoute = res.OARoute
		result.PMCID = firstNonEmpty(res.PMCID, a.PMCID)
		result.FulltextPath = res.FulltextPath
		result.Reasons = append(result.Reasons, res.Reasons...)
		if res.FulltextPath != "" {
			fmt.Fprintf(w, "[%s] saved fulltext via %s -> %s\n", a.PMID, res.OARoute, res.FulltextPath)
		}
	}

	return result
}

func dedupeByPMID(articles []types.Article) []types.Article {
	seen := make(map[string]bool, len(articles))
	out := articles[:0:0]
	for _, a := range articles {
		if a.PMID != "" && seen[a.PMID] {
			continue
		}
		seen[a.PMID] = true
		out = append(out, a)
	}
	return out
}

// writeLedger writes one TriageResult JSON line per article atomically.
func writeLedger(path string, results []types.TriageResult) error {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding ledger row %s: %w", res.PMID, err)
		}
	}
	return writeFileAtomic(path, []byte(buf.String()))
}

// writeKeepList writes the pmids passing the keep predicate, one per
// line, preserving batch order.
func writeKeepList(path string, results []types.TriageResult, threshold int) error {
	var buf strings.Builder
	for _, res := range results {
		if res.Keep(threshold) {
			buf.WriteString(res.PMID)
			buf.WriteByte('\n')
		}
	}
	return writeFileAtomic(path, []byte(buf.String()))
}

// LoadLedger reads a triage.jsonl file back into results.
func LoadLedger(path string) ([]types.TriageResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var results []types.TriageResult
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var res types.TriageResult
		if err := json.Unmarshal([]byte(text), &res); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		results = append(results, res)
	}
	return results, sc.Err()
}
