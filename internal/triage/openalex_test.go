// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// newTestClient builds a client suitable for httptest servers: no rate
// limiting, short retry budget.
func newTestClient() *httputil.Client {
	return httputil.NewClient(&http.Client{}, httputil.NewRegistry(nil), "proteinkb-test", 2)
}

// swapVar substitutes a package-level endpoint for the duration of a
// test.
func swapVar(t *testing.T, v *string, val string) {
	t.Helper()
	old := *v
	*v = val
	t.Cleanup(func() { *v = old })
}

func TestEnrichWorks(t *testing.T) {
	var mailtos []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mailtos = append(mailtos, r.URL.Query().Get("mailto"))
		switch r.URL.Path {
		case "/works/doi:10.1000/alpha":
			fmt.Fprint(w, `{
				"cited_by_count": 42,
				"open_access": {"is_oa": true, "oa_url": "https://example.org/oa"},
				"host_venue": {"id": "https://openalex.org/V123"}
			}`)
		case "/works/doi:10.1000/beta":
			http.NotFound(w, r)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	swapVar(t, &openAlexWorkBase, srv.URL+"/works/doi:")

	e := &Enricher{Client: newTestClient(), Mailto: "team@example.org"}
	profiles := e.EnrichWorks(context.Background(), []string{
		"10.1000/alpha", "10.1000/beta", "10.1000/alpha", "",
	}, io.Discard)

	require.Len(t, profiles, 1)
	p := profiles["10.1000/alpha"]
	assert.Equal(t, 42, p.CitedByCount)
	assert.True(t, p.IsOA)
	assert.Equal(t, "https://example.org/oa", p.OAURL)
	assert.Equal(t, "V123", p.HostVenueID)

	// Duplicate DOIs are fetched once, and every call carries mailto.
	assert.Len(t, mailtos, 2)
	for _, m := range mailtos {
		assert.Equal(t, "team@example.org", m)
	}
}

func TestEnrichWorksBestOALocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"cited_by_count": 3,
			"open_access": {
				"is_oa": true,
				"oa_url": "https://example.org/fallback",
				"best_oa_location": {
					"url": "https://example.org/page",
					"url_for_pdf": "https://example.org/paper.pdf",
					"landing_page_url": "https://example.org/landing"
				}
			},
			"host_venue": {"id": ""}
		}`)
	}))
	defer srv.Close()
	swapVar(t, &openAlexWorkBase, srv.URL+"/works/doi:")

	e := &Enricher{Client: newTestClient()}
	profiles := e.EnrichWorks(context.Background(), []string{"10.1/x"}, io.Discard)

	require.Len(t, profiles, 1)
	p := profiles["10.1/x"]
	assert.Equal(t, "https://example.org/paper.pdf", p.OAPDFURL)
	assert.Equal(t, "https://example.org/paper.pdf", p.OAURL)
	assert.Equal(t, "https://example.org/landing", p.OALandingURL)
}

func TestEnrichVenues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/venues/V123":
			fmt.Fprint(w, `{"summary_stats": {"2yr_mean_citedness": 7.5, "h_index": 150}}`)
		case "/venues/V456":
			fmt.Fprint(w, `{"h_index": 80, "summary_stats": {}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	swapVar(t, &openAlexVenueBase, srv.URL+"/venues/")

	e := &Enricher{Client: newTestClient()}
	profiles := map[string]types.WorkProfile{
		"10.1/a": {HostVenueID: "V123"},
		"10.1/b": {HostVenueID: "V456"},
		"10.1/c": {HostVenueID: "V999"},
	}
	metrics := e.EnrichVenues(context.Background(), profiles, io.Discard)

	require.Len(t, metrics, 2)
	m := metrics["V123"]
	require.NotNil(t, m.TwoYearMeanCitedness)
	assert.Equal(t, 7.5, *m.TwoYearMeanCitedness)
	require.NotNil(t, m.HIndex)
	assert.Equal(t, 150, *m.HIndex)

	// Top-level h_index is the fallback when summary stats lack one.
	m = metrics["V456"]
	assert.Nil(t, m.TwoYearMeanCitedness)
	require.NotNil(t, m.HIndex)
	assert.Equal(t, 80, *m.HIndex)
}

func TestVenueIDTail(t *testing.T) {
	assert.Equal(t, "V123", venueIDTail("https://openalex.org/V123"))
	assert.Equal(t, "V123", venueIDTail("V123"))
	assert.Equal(t, "", venueIDTail(""))
}
