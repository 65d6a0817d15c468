// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// EuropePMC endpoints. Declared as vars so tests can substitute an
// httptest server.
var (
	epmcSearchBase      = "https://www.ebi.ac.uk/europepmc/webservices/rest/search"
	epmcFulltextBase    = "https://www.ebi.ac.uk/europepmc/webservices/rest/"
	epmcAnnotationsBase = "https://www.ebi.ac.uk/europepmc/annotations_api/annotationsByArticleIds"
)

// ResourceEPMC names the EuropePMC rate-limiter bucket.
const ResourceEPMC = "epmc"

// annotationChunkSize bounds article ids per annotations call; the
// service rejects larger batches.
const annotationChunkSize = 8

// epmcSearchResponse is the core-result envelope of the search endpoint.
type epmcSearchResponse struct {
	ResultList struct {
		Result []epmcCoreResult `json:"result"`
	} `json:"resultList"`
}

type epmcCoreResult struct {
	PMCID        string `json:"pmcid"`
	IsOpenAccess string `json:"isOpenAccess"`
}

// CoreRecord is the subset of an EPMC core record the resolver needs.
type CoreRecord struct {
	PMCID        string
	IsOpenAccess bool
}

// LookupCore resolves an external id (DOI or PMID) to its EPMC core
// record. A zero record with nil error means the id is unknown to EPMC.
func LookupCore(ctx context.Context, client *httputil.Client, extID string) (CoreRecord, error) {
	params := url.Values{
		"query":      {"EXT_ID:" + extID},
		"resultType": {"core"},
		"format":     {"json"},
	}
	var resp epmcSearchResponse
	err := client.GetJSON(ctx, epmcSearchBase, params, nil, ResourceEPMC, &resp)
	switch {
	case errors.Is(err, httputil.ErrNotFound):
		return CoreRecord{}, nil
	case err != nil:
		return CoreRecord{}, err
	}
	if len(resp.ResultList.Result) == 0 {
		return CoreRecord{}, nil
	}
	hit := resp.ResultList.Result[0]
	return CoreRecord{
		PMCID:        hit.PMCID,
		IsOpenAccess: strings.EqualFold(hit.IsOpenAccess, "Y"),
	}, nil
}

// FetchFulltextXML downloads the open full-text XML for a PMCID.
// Returns "" (no error) when the article has no full text.
func FetchFulltextXML(ctx context.Context, client *httputil.Client, pmcid string) (string, error) {
	headers := map[string]string{"Accept": "application/xml, text/xml;q=0.9, */*;q=0.8"}
	text, err := client.GetText(ctx, epmcFulltextBase+pmcid+"/fullTextXML", nil, headers, ResourceEPMC)
	if errors.Is(err, httputil.ErrNotFound) {
		return "", nil
	}
	return text, err
}

// epmcAnnotationsResponse tolerates both response shapes the
// annotations API has used: a list of per-article entries, or a bare
// annotation list.
type epmcAnnotationEntry struct {
	ArticleID   string           `json:"articleId"`
	Annotations []map[string]any `json:"annotations"`
}

// AnnotationFlags queries which article ids have machine annotations,
// batching ids in chunks. IDs use EPMC form: "MED:<pmid>" or
// "PMC:<number>". Failures for one chunk degrade to "no annotations"
// for its ids.
func AnnotationFlags(ctx context.Context, client *httputil.Client, ids []string, w io.Writer) map[string]bool {
	flags := make(map[string]bool)
	for start := 0; start < len(ids); start += annotationChunkSize {
		end := start + annotationChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		params := url.Values{"articleIds": {strings.Join(chunk, ",")}}
		var entries []epmcAnnotationEntry
		err := client.GetJSON(ctx, epmcAnnotationsBase, params, nil, ResourceEPMC, &entries)
		switch {
		case errors.Is(err, httputil.ErrNotFound):
			continue
		case err != nil:
			fmt.Fprintf(w, "warning: EPMC annotations lookup failed for %v: %v\n", chunk, err)
			continue
		}
		for _, e := range entries {
			if e.ArticleID != "" && len(e.Annotations) > 0 {
				flags[e.ArticleID] = true
			}
		}
	}
	return flags
}

// EPMCArticleID returns the annotations-API id for an article: the PMC
// form when a PMCID is known, else the MED form.
func EPMCArticleID(a types.Article) string {
	if a.PMCID != "" {
		return "PMC:" + strings.TrimPrefix(a.PMCID, "PMC")
	}
	if a.PMID != "" {
		return "MED:" + a.PMID
	}
	return ""
}
