// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest collects article metadata from PubMed for a protein
// and its synonyms.
package harvest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// NCBI E-utilities endpoints. Declared as vars so tests can substitute
// an httptest server.
var (
	esearchBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	efetchBase  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
)

// ResourceNCBI names the NCBI rate-limiter bucket.
const ResourceNCBI = "ncbi"

// NCBI allows roughly 3 requests per second without an API key and 10
// with one.
const (
	RPSWithoutKey = 3
	RPSWithKey    = 10
)

const (
	// maxRetrievable is the ESearch hard ceiling: only the first 9999
	// UIDs of any single query window can be paged through.
	maxRetrievable = 9999
	esearchPage    = 1000
	efetchBatch    = 200
)

// ErrQueryTooBroad reports a single publication day holding more
// results than one ESearch window can return; no date split can go
// finer.
var ErrQueryTooBroad = errors.New("query exceeds the retrievable window for a single day; narrow the term")

// NewRegistry returns the limiter registry for the harvest stage.
func NewRegistry(apiKey string) *httputil.Registry {
	rps := float64(RPSWithoutKey)
	if apiKey != "" {
		rps = RPSWithKey
	}
	return httputil.NewRegistry(map[string]float64{ResourceNCBI: rps})
}

// BuildTerm assembles the PubMed query term: each synonym fielded and
// OR-joined, multi-word synonyms quoted.
func BuildTerm(synonyms []string, field string) string {
	if field == "" {
		field = "tiab"
	}
	parts := make([]string, 0, len(synonyms))
	for _, s := range synonyms {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, " ") {
			parts = append(parts, fmt.Sprintf("%q[%s]", s, field))
		} else {
			parts = append(parts, fmt.Sprintf("%s[%s]", s, field))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Harvester drives the PubMed E-utilities.
type Harvester struct {
	Client   *httputil.Client
	APIKey   string
	DateType string

	// Today anchors the date-window descent; tests pin it.
	Today func() time.Time
}

func (h *Harvester) dateType() string {
	if h.DateType == "" {
		return "pdat"
	}
	return h.DateType
}

func (h *Harvester) params() url.Values {
	p := url.Values{"db": {"pubmed"}}
	if h.APIKey != "" {
		p.Set("api_key", h.APIKey)
	}
	return p
}

// esearchResult is the JSON envelope of an ESearch response. Count
// arrives as a string.
type esearchEnvelope struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IDList []string `json:"idlist"`
	Error  string   `json:"ERROR"`
}

func (h *Harvester) esearch(ctx context.Context, params url.Values, window string) (esearchResult, error) {
	var env esearchEnvelope
	if err := h.Client.GetJSON(ctx, esearchBase, params, nil, ResourceNCBI, &env); err != nil {
		return esearchResult{}, err
	}
	if env.Result.Error != "" {
		return esearchResult{}, fmt.Errorf("ESearch error (%s): %s", window, env.Result.Error)
	}
	return env.Result, nil
}

// Count returns the total result count for the term, optionally
// restricted to a publication-date window ("YYYY/MM/DD" bounds).
func (h *Harvester) Count(ctx context.Context, term, minDate, maxDate string) (int, error) {
	params := h.params()
	params.Set("term", term)
	params.Set("retmode", "json")
	params.Set("rettype", "count")
	params.Set("datetype", h.dateType())
	if minDate != "" && maxDate != "" {
		params.Set("mindate", minDate)
		params.Set("maxdate", maxDate)
	}
	res, err := h.esearch(ctx, params, "count "+minDate+".."+maxDate)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(res.Count)
	if err != nil {
		return 0, fmt.Errorf("parsing ESearch count %q: %w", res.Count, err)
	}
	return n, nil
}

// searchIDs pages through one query window, newest first, until cap
// ids are collected or the retrievable ceiling is hit. Empty dates mean
// an unwindowed query.
func (h *Harvester) searchIDs(ctx context.Context, term, minDate, maxDate string, limit int) ([]string, error) {
	params := h.params()
	params.Set("term", term)
	params.Set("retmode", "json")
	params.Set("sort", "pub_date")
	if minDate != "" && maxDate != "" {
		params.Set("datetype", h.dateType())
		params.Set("mindate", minDate)
		params.Set("maxdate", maxDate)
	}

	var ids []string
	retstart := 0
	for len(ids) < limit && retstart <= maxRetrievable-1 {
		retmax := esearchPage
		if rest := limit - len(ids); rest < retmax {
			retmax = rest
		}
		params.Set("retstart", strconv.Itoa(retstart))
		params.Set("retmax", strconv.Itoa(retmax))

		res, err := h.esearch(ctx, params, minDate+".."+maxDate)
		if err != nil {
			return ids, err
		}
		if len(res.IDList) == 0 {
			break
		}
		ids = append(ids, res.IDList...)
		retstart += len(res.IDList)
	}
	return ids, nil
}

const dateLayout = "2006/01/02"

// CollectLatest gathers the newest needN pmids for the term. Queries
// within the ESearch ceiling run directly; larger ones descend through
// date windows (year, month, week, day) so every window stays
// retrievable.
func (h *Harvester) CollectLatest(ctx context.Context, term string, needN int, w io.Writer) ([]string, error) {
	if needN <= maxRetrievable {
		return h.searchIDs(ctx, term, "", "", needN)
	}

	total, err := h.Count(ctx, term, "", "")
	if err != nil {
		return nil, err
	}
	goal := needN
	if total < goal {
		goal = total
	}
	fmt.Fprintf(w, "PubMed reports %d results; collecting %d\n", total, goal)
	if goal <= 0 {
		return nil, nil
	}

	today := time.Now
	if h.Today != nil {
		today = h.Today
	}

	var all []string
	end := today().UTC()
	for len(all) < goal {
		remaining := goal - len(all)
		if remaining > maxRetrievable {
			remaining = maxRetrievable
		}

		got, next, err := h.collectWindow(ctx, term, end, remaining)
		if err != nil {
			return all, err
		}
		all = append(all, got...)
		if len(got) > 0 {
			fmt.Fprintf(w, "collected %d/%d\n", len(all), goal)
		}
		end = next
	}
	return all, nil
}

// collectWindow picks the widest window ending at end whose count fits
// the ESearch ceiling, fetches it, and returns the next end date to
// descend from.
func (h *Harvester) collectWindow(ctx context.Context, term string, end time.Time, limit int) ([]string, time.Time, error) {
	fetch := func(start time.Time, count int) ([]string, time.Time, error) {
		if count < limit {
			limit = count
		}
		ids, err := h.searchIDs(ctx, term, start.Format(dateLayout), end.Format(dateLayout), limit)
		return ids, start.AddDate(0, 0, -1), err
	}

	yearStart := time.Date(end.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	count, err := h.Count(ctx, term, yearStart.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, end, err
	}
	if count == 0 {
		return nil, yearStart.AddDate(0, 0, -1), nil
	}
	if count <= maxRetrievable {
		return fetch(yearStart, count)
	}

	monthStart := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	count, err = h.Count(ctx, term, monthStart.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, end, err
	}
	if count == 0 {
		return nil, monthStart.AddDate(0, 0, -1), nil
	}
	if count <= maxRetrievable {
		return fetch(monthStart, count)
	}

	weekStart := end.AddDate(0, 0, -6)
	count, err = h.Count(ctx, term, weekStart.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, end, err
	}
	if count == 0 {
		return nil, weekStart.AddDate(0, 0, -1), nil
	}
	if count <= maxRetrievable {
		return fetch(weekStart, count)
	}

	count, err = h.Count(ctx, term, end.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, end, err
	}
	if count == 0 {
		return nil, end.AddDate(0, 0, -1), nil
	}
	if count > maxRetrievable {
		return nil, end, fmt.Errorf("%w: %s has %d results", ErrQueryTooBroad, end.Format(dateLayout), count)
	}
	return fetch(end, count)
}

// Fetch downloads full metadata for the pmids in EFetch batches,
// returning articles in input order.
func (h *Harvester) Fetch(ctx context.Context, pmids []string, w io.Writer) ([]types.Article, error) {
	order := make(map[string]int, len(pmids))
	for i, pmid := range pmids {
		order[pmid] = i
	}

	articles := make([]types.Article, 0, len(pmids))
	for start := 0; start < len(pmids); start += efetchBatch {
		end := start + efetchBatch
		if end > len(pmids) {
			end = len(pmids)
		}
		params := h.params()
		params.Set("id", strings.Join(pmids[start:end], ","))
		params.Set("retmode", "xml")

		body, _, err := h.Client.Get(ctx, efetchBase, params, nil, ResourceNCBI)
		if err != nil {
			return articles, fmt.Errorf("EFetch batch at %d: %w", start, err)
		}
		batch, err := parseEFetchXML(body)
		if err != nil {
			fmt.Fprintf(w, "warning: EFetch batch at %d unparseable: %v\n", start, err)
			continue
		}
		articles = append(articles, batch...)
	}

	sortArticlesByOrder(articles, order)
	return articles, nil
}

func sortArticlesByOrder(articles []types.Article, order map[string]int) {
	rank := func(a types.Article) int {
		if i, ok := order[a.PMID]; ok {
			return i
		}
		return len(order)
	}
	// Insertion sort keeps unknown pmids stable at the tail; batches
	// arrive nearly ordered already.
	for i := 1; i < len(articles); i++ {
		for j := i; j > 0 && rank(articles[j]) < rank(articles[j-1]); j-- {
			articles[j], articles[j-1] = articles[j-1], articles[j]
		}
	}
}

// EFetch XML shapes, reduced to the fields the pipeline consumes.
type efetchEnvelope struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []efetchArticle `xml:"PubmedArticle"`
}

type efetchArticle struct {
	PMID    string `xml:"MedlineCitation>PMID"`
	Article struct {
		Title    string         `xml:"ArticleTitle"`
		Abstract []abstractText `xml:"Abstract>AbstractText"`
		Journal  struct {
			Title   string `xml:"Title"`
			PubDate struct {
				Year        string `xml:"Year"`
				MedlineDate string `xml:"MedlineDate"`
			} `xml:"JournalIssue>PubDate"`
		} `xml:"Journal"`
		ELocationIDs []typedID `xml:"ELocationID"`
		Authors      []author  `xml:"AuthorList>Author"`
		PubTypes     []string  `xml:"PublicationTypeList>PublicationType"`
	} `xml:"MedlineCitation>Article"`
	MeSH       []string  `xml:"MedlineCitation>MeshHeadingList>MeshHeading>DescriptorName"`
	ArticleIDs []typedID `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type abstractText struct {
	Label       string `xml:"Label,attr"`
	NlmCategory string `xml:"NlmCategory,attr"`
	Text        string `xml:",chardata"`
}

type typedID struct {
	IDType  string `xml:"IdType,attr"`
	EIDType string `xml:"EIdType,attr"`
	Value   string `xml:",chardata"`
}

type author struct {
	LastName       string `xml:"LastName"`
	Initials       string `xml:"Initials"`
	CollectiveName string `xml:"CollectiveName"`
}

var yearPattern = regexp.MustCompile(`\d{4}`)

func parseEFetchXML(body []byte) ([]types.Article, error) {
	var env efetchEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	out := make([]types.Article, 0, len(env.Articles))
	for _, ea := range env.Articles {
		a := types.Article{
			PMID:     strings.TrimSpace(ea.PMID),
			Title:    strings.TrimSpace(ea.Article.Title),
			Abstract: joinAbstract(ea.Article.Abstract),
			Journal:  strings.TrimSpace(ea.Article.Journal.Title),
			PubTypes: trimAll(ea.Article.PubTypes),
			MeSH:     trimAll(ea.MeSH),
		}
		if a.PMID != "" {
			a.URL = "https://pubmed.ncbi.nlm.nih.gov/" + a.PMID + "/"
		}

		if y := strings.TrimSpace(ea.Article.Journal.PubDate.Year); y != "" {
			a.Year, _ = strconv.Atoi(y)
		} else if m := yearPattern.FindString(ea.Article.Journal.PubDate.MedlineDate); m != "" {
			a.Year, _ = strconv.Atoi(m)
		}

		for _, id := range ea.Article.ELocationIDs {
			if strings.EqualFold(id.EIDType, "doi") {
				a.DOI = strings.TrimSpace(id.Value)
				break
			}
		}
		for _, id := range ea.ArticleIDs {
			switch strings.ToLower(id.IDType) {
			case "doi":
				if a.DOI == "" {
					a.DOI = strings.TrimSpace(id.Value)
				}
			case "pmc":
				a.PMCID = normalizePMCID(id.Value)
			}
		}

		for _, au := range ea.Article.Authors {
			switch {
			case au.CollectiveName != "":
				a.Authors = append(a.Authors, strings.TrimSpace(au.CollectiveName))
			case au.LastName != "":
				name := au.LastName
				if au.Initials != "" {
					name += " " + au.Initials
				}
				a.Authors = append(a.Authors, strings.TrimSpace(name))
			}
		}

		out = append(out, a)
	}
	return out, nil
}

// joinAbstract flattens structured abstracts, prefixing each labeled
// section with its label.
func joinAbstract(parts []abstractText) string {
	var segs []string
	for _, p := range parts {
		seg := strings.TrimSpace(p.Text)
		label := p.Label
		if label == "" {
			label = p.NlmCategory
		}
		switch {
		case label != "" && seg != "":
			segs = append(segs, label+": "+seg)
		case label != "":
			segs = append(segs, label)
		case seg != "":
			segs = append(segs, seg)
		}
	}
	return strings.Join(segs, " ")
}

func normalizePMCID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToUpper(v), "PMC") {
		return "PMC" + v
	}
	return "PMC" + strings.TrimPrefix(strings.ToUpper(v), "PMC")
}

func trimAll(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
