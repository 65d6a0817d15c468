// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// OpenAlex endpoints. Declared as vars so tests can substitute an
// httptest server.
var (
	openAlexWorkBase  = "https://api.openalex.org/works/doi:"
	openAlexVenueBase = "https://api.openalex.org/venues/"
)

// ResourceOpenAlex names the OpenAlex rate-limiter bucket.
const ResourceOpenAlex = "openalex"

// openAlexWork captures the fields we need from a work record.
type openAlexWork struct {
	CitedByCount int                `json:"cited_by_count"`
	OpenAccess   openAlexOpenAccess `json:"open_access"`
	HostVenue    openAlexVenueRef   `json:"host_venue"`
}

type openAlexOpenAccess struct {
	IsOA           bool              `json:"is_oa"`
	OAURL          string            `json:"oa_url"`
	BestOALocation *openAlexLocation `json:"best_oa_location"`
}

type openAlexLocation struct {
	URL           string `json:"url"`
	URLForPDF     string `json:"url_for_pdf"`
	URLForLanding string `json:"url_for_landing_page"`
	LandingURL    string `json:"landing_page_url"`
}

type openAlexVenueRef struct {
	ID string `json:"id"`
}

// openAlexVenue captures venue influence metrics.
type openAlexVenue struct {
	SummaryStats openAlexSummaryStats `json:"summary_stats"`
	HIndex       *int                 `json:"h_index"`
}

type openAlexSummaryStats struct {
	TwoYearMeanCitedness *float64 `json:"2yr_mean_citedness"`
	HIndex               *int     `json:"h_index"`
}

// toProfile converts the raw work record into a WorkProfile. Dict-shaped
// access stays inside this parse function; callers only see the typed
// profile.
func (w openAlexWork) toProfile() types.WorkProfile {
	p := types.WorkProfile{
		CitedByCount: w.CitedByCount,
		IsOA:         w.OpenAccess.IsOA,
		HostVenueID:  venueIDTail(w.HostVenue.ID),
	}
	if loc := w.OpenAccess.BestOALocation; loc != nil {
		p.OAPDFURL = loc.URLForPDF
		p.OALandingURL = loc.URLForLanding
		if p.OALandingURL == "" {
			p.OALandingURL = loc.LandingURL
		}
		p.OAURL = firstNonEmpty(loc.URLForPDF, loc.URL, p.OALandingURL, w.OpenAccess.OAURL)
	} else {
		p.OAURL = w.OpenAccess.OAURL
	}
	return p
}

// venueIDTail strips the https://openalex.org/ prefix from a venue id.
func venueIDTail(id string) string {
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Enricher fetches bibliometric profiles from OpenAlex. Lookups are
// deduplicated within a batch; missing or malformed responses degrade to
// the zero profile rather than failing the batch.
type Enricher struct {
	Client *httputil.Client
	Mailto string
}

// EnrichWorks fetches one work record per unique DOI. The returned map
// contains an entry only for DOIs that resolved; absent DOIs simply have
// no profile.
func (e *Enricher) EnrichWorks(ctx context.Context, dois []string, w io.Writer) map[string]types.WorkProfile {
	profiles := make(map[string]types.WorkProfile)
	for _, doi := range uniqueNonEmpty(dois) {
		var work openAlexWork
		err := e.Client.GetJSON(ctx, openAlexWorkBase+strings.ToLower(doi), e.params(), nil, ResourceOpenAlex, &work)
		switch {
		case errors.Is(err, httputil.ErrNotFound):
			continue
		case err != nil:
			fmt.Fprintf(w, "warning: OpenAlex work lookup failed for %s: %v\n", doi, err)
			continue
		}
		profiles[doi] = work.toProfile()
	}
	return profiles
}

// EnrichVenues fetches metrics for each unique venue id referenced by
// the given profiles.
func (e *Enricher) EnrichVenues(ctx context.Context, profiles map[string]types.WorkProfile, w io.Writer) map[string]types.VenueMetrics {
	var ids []string
	for _, p := range profiles {
		if p.HostVenueID != "" {
			ids = append(ids, p.HostVenueID)
		}
	}

	metrics := make(map[string]types.VenueMetrics)
	for _, vid := range uniqueNonEmpty(ids) {
		var venue openAlexVenue
		err := e.Client.GetJSON(ctx, openAlexVenueBase+vid, e.params(), nil, ResourceOpenAlex, &venue)
		switch {
		case errors.Is(err, httputil.ErrNotFound):
			continue
		case err != nil:
			fmt.Fprintf(w, "warning: OpenAlex venue lookup failed for %s: %v\n", vid, err)
			continue
		}
		m := types.VenueMetrics{
			TwoYearMeanCitedness: venue.SummaryStats.TwoYearMeanCitedness,
			HIndex:               venue.SummaryStats.HIndex,
		}
		if m.HIndex == nil {
			m.HIndex = venue.HIndex
		}
		metrics[vid] = m
	}
	return metrics
}

func (e *Enricher) params() url.Values {
	if e.Mailto == "" {
		return nil
	}
	return url.Values{"mailto": {e.Mailto}}
}

// uniqueNonEmpty returns the sorted distinct non-empty values, so lookup
// order is stable across runs.
func uniqueNonEmpty(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	var out []string
	for _, v := range vals {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
