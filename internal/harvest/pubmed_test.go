// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

func newTestClient() *httputil.Client {
	return httputil.NewClient(&http.Client{}, httputil.NewRegistry(nil), "proteinkb-test", 2)
}

func swapVar(t *testing.T, v *string, val string) {
	t.Helper()
	old := *v
	*v = val
	t.Cleanup(func() { *v = old })
}

func TestBuildTerm(t *testing.T) {
	assert.Equal(t, "(TP53[tiab] OR p53[tiab])", BuildTerm([]string{"TP53", "p53"}, "tiab"))
	assert.Equal(t, `(APOE[tiab] OR "Apolipoprotein E"[tiab])`, BuildTerm([]string{"APOE", "Apolipoprotein E"}, ""))
	assert.Equal(t, "(NRF2[ti])", BuildTerm([]string{" NRF2 ", ""}, "ti"))
}

const sampleEFetch = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">100</PMID>
      <Article>
        <Journal>
          <Title>Journal of Protein Science</Title>
          <JournalIssue><PubDate><Year>2025</Year></PubDate></JournalIssue>
        </Journal>
        <ArticleTitle>TP53 variant kinetics</ArticleTitle>
        <ELocationID EIdType="doi" ValidYN="Y">10.1000/alpha</ELocationID>
        <Abstract>
          <AbstractText Label="BACKGROUND">Variants matter.</AbstractText>
          <AbstractText Label="RESULTS">kcat fell twofold.</AbstractText>
        </Abstract>
        <AuthorList>
          <Author><LastName>Doe</LastName><Initials>J</Initials></Author>
          <Author><CollectiveName>The Variant Consortium</CollectiveName></Author>
        </AuthorList>
        <PublicationTypeList>
          <PublicationType UI="D016428">Journal Article</PublicationType>
        </PublicationTypeList>
      </Article>
      <MeshHeadingList>
        <MeshHeading><DescriptorName UI="D016158">Tumor Suppressor Protein p53</DescriptorName></MeshHeading>
      </MeshHeadingList>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">100</ArticleId>
        <ArticleId IdType="pmc">4567</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">101</PMID>
      <Article>
        <Journal>
          <Title>Old Journal</Title>
          <JournalIssue><PubDate><MedlineDate>1998 Jul-Aug</MedlineDate></PubDate></JournalIssue>
        </Journal>
        <ArticleTitle>An older paper</ArticleTitle>
        <Abstract><AbstractText>Plain abstract.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="doi">10.1000/beta</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

func TestParseEFetchXML(t *testing.T) {
	articles, err := parseEFetchXML([]byte(sampleEFetch))
	require.NoError(t, err)
	require.Len(t, articles, 2)

	a := articles[0]
	assert.Equal(t, "100", a.PMID)
	assert.Equal(t, "TP53 variant kinetics", a.Title)
	assert.Equal(t, "BACKGROUND: Variants matter. RESULTS: kcat fell twofold.", a.Abstract)
	assert.Equal(t, "Journal of Protein Science", a.Journal)
	assert.Equal(t, 2025, a.Year)
	assert.Equal(t, "10.1000/alpha", a.DOI)
	assert.Equal(t, "PMC4567", a.PMCID)
	assert.Equal(t, []string{"Doe J", "The Variant Consortium"}, a.Authors)
	assert.Equal(t, []string{"Journal Article"}, a.PubTypes)
	assert.Equal(t, []string{"Tumor Suppressor Protein p53"}, a.MeSH)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/100/", a.URL)

	b := articles[1]
	assert.Equal(t, 1998, b.Year)
	assert.Equal(t, "10.1000/beta", b.DOI)
	assert.Equal(t, "Plain abstract.", b.Abstract)
	assert.Empty(t, b.PMCID)
}

func TestParseEFetchXMLMalformed(t *testing.T) {
	_, err := parseEFetchXML([]byte("<PubmedArticleSet><unterminated"))
	assert.Error(t, err)
}

func TestNormalizePMCID(t *testing.T) {
	assert.Equal(t, "PMC123", normalizePMCID("123"))
	assert.Equal(t, "PMC123", normalizePMCID("PMC123"))
	assert.Equal(t, "PMC123", normalizePMCID("pmc123"))
	assert.Equal(t, "", normalizePMCID(" "))
}

func TestSearchIDsPaging(t *testing.T) {
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		starts = append(starts, q.Get("retstart"))
		retstart, _ := strconv.Atoi(q.Get("retstart"))
		retmax, _ := strconv.Atoi(q.Get("retmax"))

		// Simulate 1500 total ids.
		var ids []string
		for i := retstart; i < retstart+retmax && i < 1500; i++ {
			ids = append(ids, fmt.Sprintf("%q", strconv.Itoa(i)))
		}
		fmt.Fprintf(w, `{"esearchresult": {"count": "1500", "idlist": [%s]}}`, strings.Join(ids, ","))
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{Client: newTestClient()}
	ids, err := h.searchIDs(context.Background(), "(X[tiab])", "", "", 1500)
	require.NoError(t, err)
	assert.Len(t, ids, 1500)
	assert.Equal(t, []string{"0", "1000"}, starts)
	assert.Equal(t, "0", ids[0])
	assert.Equal(t, "1499", ids[1499])
}

func TestCountParsesStringCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "count", r.URL.Query().Get("rettype"))
		fmt.Fprint(w, `{"esearchresult": {"count": "4242"}}`)
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{Client: newTestClient()}
	n, err := h.Count(context.Background(), "(X[tiab])", "", "")
	require.NoError(t, err)
	assert.Equal(t, 4242, n)
}

func TestCountSurfacesESearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult": {"count": "0", "ERROR": "Invalid query"}}`)
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{Client: newTestClient()}
	_, err := h.Count(context.Background(), "bad term", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid query")
}

// TestCollectLatestDateWindows drives the year/month descent: the year
// window is over the ceiling, the month window fits.
func TestCollectLatestDateWindows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("rettype") == "count" {
			// Unlisted windows count zero and are skipped by the descent.
			count := "0"
			switch {
			case q.Get("mindate") == "" && q.Get("maxdate") == "":
				count = "12000"
			case q.Get("mindate") == "2026/01/01":
				count = "15000" // year window too big
			case q.Get("mindate") == "2026/06/01":
				count = "9000" // month window fits
			case q.Get("mindate") == "2025/01/01":
				count = "3000" // previous year fits
			}
			fmt.Fprintf(w, `{"esearchresult": {"count": %q}}`, count)
			return
		}
		// Window fetches return synthetic ids derived from mindate.
		retmax, _ := strconv.Atoi(q.Get("retmax"))
		retstart, _ := strconv.Atoi(q.Get("retstart"))
		prefix := strings.ReplaceAll(q.Get("mindate"), "/", "")
		var ids []string
		for i := retstart; i < retstart+retmax && i < 9000; i++ {
			ids = append(ids, fmt.Sprintf(`"%s-%d"`, prefix, i))
		}
		fmt.Fprintf(w, `{"esearchresult": {"count": "9000", "idlist": [%s]}}`, strings.Join(ids, ","))
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{
		Client: newTestClient(),
		Today:  func() time.Time { return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC) },
	}

	ids, err := h.CollectLatest(context.Background(), "(X[tiab])", 10000, io.Discard)
	require.NoError(t, err)
	assert.Len(t, ids, 10000)
	// June window first, then the descent lands in the previous year.
	assert.True(t, strings.HasPrefix(ids[0], "20260601-"))
	assert.True(t, strings.HasPrefix(ids[9999], "20250101-"))
}

func TestCollectLatestQueryTooBroad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every window, down to a single day, is over the ceiling.
		fmt.Fprint(w, `{"esearchresult": {"count": "50000"}}`)
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{
		Client: newTestClient(),
		Today:  func() time.Time { return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC) },
	}

	_, err := h.CollectLatest(context.Background(), "(X[tiab])", 20000, io.Discard)
	require.ErrorIs(t, err, ErrQueryTooBroad)
}

func TestCollectLatestSmallRequestSkipsWindowing(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Empty(t, r.URL.Query().Get("mindate"))
		fmt.Fprint(w, `{"esearchresult": {"count": "2", "idlist": ["7", "8"]}}`)
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL)

	h := &Harvester{Client: newTestClient()}
	ids, err := h.CollectLatest(context.Background(), "(X[tiab])", 50, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, ids)
}

func TestFetchBatchesAndOrders(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		batchSizes = append(batchSizes, len(ids))

		// Return the batch in reverse order to exercise reordering.
		var sb strings.Builder
		sb.WriteString("<PubmedArticleSet>")
		for i := len(ids) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, `<PubmedArticle><MedlineCitation><PMID>%s</PMID>
				<Article><ArticleTitle>T%s</ArticleTitle></Article>
			</MedlineCitation></PubmedArticle>`, ids[i], ids[i])
		}
		sb.WriteString("</PubmedArticleSet>")
		fmt.Fprint(w, sb.String())
	}))
	defer srv.Close()
	swapVar(t, &efetchBase, srv.URL)

	pmids := make([]string, 250)
	for i := range pmids {
		pmids[i] = strconv.Itoa(i)
	}

	h := &Harvester{Client: newTestClient()}
	articles, err := h.Fetch(context.Background(), pmids, io.Discard)
	require.NoError(t, err)
	require.Len(t, articles, 250)
	assert.Equal(t, []int{200, 50}, batchSizes)
	for i, a := range articles {
		assert.Equal(t, strconv.Itoa(i), a.PMID)
	}
}

func TestRunWritesOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "efetch") {
			fmt.Fprint(w, sampleEFetch)
			return
		}
		fmt.Fprint(w, `{"esearchresult": {"count": "2", "idlist": ["100", "101"]}}`)
	}))
	defer srv.Close()
	swapVar(t, &esearchBase, srv.URL+"/esearch")
	swapVar(t, &efetchBase, srv.URL+"/efetch")

	prefix := filepath.Join(t.TempDir(), "out", "articles")
	h := &Harvester{Client: newTestClient()}
	cfg := types.HarvestConfig{OutPrefix: prefix, MaxResults: 2, Field: "tiab"}

	summary, err := h.Run(context.Background(), cfg, []string{"TP53"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PMIDs)
	assert.Equal(t, 2, summary.Articles)

	jsonl, err := os.ReadFile(prefix + ".pubmed.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(jsonl)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"pmid":"100"`)
	assert.Contains(t, lines[0], `"pmcid":"PMC4567"`)

	csvData, err := os.ReadFile(prefix + ".pubmed.csv")
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "PMID,Title,Journal,Year,DOI,Authors,URL,Abstract")
	assert.Contains(t, string(csvData), "Doe J; The Variant Consortium")

	pmidsTxt, err := os.ReadFile(prefix + ".pubmed.pmids.txt")
	require.NoError(t, err)
	assert.Equal(t, "100\n101\n", string(pmidsTxt))
}
