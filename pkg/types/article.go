// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the proteinkb pipeline:
// harvested articles, triage ledger rows, bibliometric profiles, and the
// extracted outcome records handed to downstream consumers.
package types

// Article is one harvested PubMed record. Articles are created once from
// harvester output and never mutated afterwards.
type Article struct {
	// PMID is the PubMed identifier.
	PMID string `json:"pmid" yaml:"pmid"`

	// Title is the article title.
	Title string `json:"title" yaml:"title"`

	// Abstract is the article abstract, label-prefixed segments joined.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Journal is the full journal title, if known.
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// Year is the publication year, zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// DOI is the Digital Object Identifier, empty when unknown.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// Authors lists author display names in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// URL is the PubMed landing page.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// PMCID is the PubMed Central identifier ("PMC1234567"), empty when unknown.
	PMCID string `json:"pmcid,omitempty" yaml:"pmcid,omitempty"`

	// PubTypes lists PubMed publication types (e.g. "Journal Article", "Review").
	PubTypes []string `json:"pub_types,omitempty" yaml:"pub_types,omitempty"`

	// MeSH lists Medical Subject Heading descriptors.
	MeSH []string `json:"mesh,omitempty" yaml:"mesh,omitempty"`
}

// TriageResult is one row of the triage ledger. Results are created once
// per article per run and never mutated after creation.
//
// Invariant: FulltextPath != "" implies OA.
type TriageResult struct {
	PMID  string `json:"pmid"`
	DOI   string `json:"doi,omitempty"`
	PMCID string `json:"pmcid,omitempty"`

	// OA reports whether the article is known to be open access, from
	// bibliometric metadata or from a successful full-text fetch.
	OA bool `json:"oa"`

	// OARoute identifies the source of the OA determination:
	// OPENALEX, EPMC_FLAG, EPMC_XML, OPENALEX_URL, OPENALEX_URL_HTML2XML,
	// or UNPAYWALL. Empty when OA status is unknown.
	OARoute string `json:"oa_route,omitempty"`

	// FulltextPath is the saved full-text artifact, empty when none was fetched.
	FulltextPath string `json:"fulltext_path,omitempty"`

	// Score is the relevance score; deterministic for fixed inputs and date.
	Score int `json:"score"`

	// Reasons lists the contributing sub-scores in evaluation order.
	Reasons []string `json:"reasons"`

	// HasAnnotations reports whether EuropePMC has machine annotations
	// for this article.
	HasAnnotations bool `json:"has_epmc_ann"`

	// IsReview reports whether any publication type marks this as a
	// review, editorial, or comment.
	IsReview bool `json:"is_review"`
}

// Keep reports whether the article passes the keep predicate: not a
// review and scored above threshold. The same predicate gates full-text
// fetching, so every kept pmid has either a full-text artifact or a
// fully exhausted route chain.
func (t TriageResult) Keep(threshold int) bool {
	return !t.IsReview && t.Score > threshold
}

// WorkProfile holds per-DOI bibliometric signals from the scholarly
// graph. The zero value is the degraded "nothing known" profile.
type WorkProfile struct {
	CitedByCount int
	IsOA         bool
	OAURL        string
	OAPDFURL     string
	OALandingURL string
	HostVenueID  string
}

// VenueMetrics holds per-venue influence signals. Nil fields mean the
// metric was absent from the source.
type VenueMetrics struct {
	TwoYearMeanCitedness *float64
	HIndex               *int
}
