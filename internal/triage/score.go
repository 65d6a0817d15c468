// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package triage ranks harvested articles, enriches them with
// bibliometric signals, and acquires open-access full text for the ones
// worth deep extraction.
package triage

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/biokb/proteinkb/pkg/types"
)

// DefaultScoreThreshold gates full-text fetching and the keep list.
// Articles qualify when not a review and score > threshold.
const DefaultScoreThreshold = 50

// funcAssayPattern matches kinetic/binding/activity vocabulary in a
// title+abstract, signalling that the article likely reports measured
// variant outcomes.
var funcAssayPattern = regexp.MustCompile(`(?i)\b(mutant|variant|alanine\s?scan|site[-\s]?directed|` +
	`binding|affinity|Kd|Ki|kcat|Km|EC50|IC50|Tm|stability|fluorescence|` +
	`activity|assay|reporter|growth|viability|fitness|complementation|enzymatic)\b`)

// reviewPubTypes are the publication types penalized by the scorer and
// excluded from full-text fetching.
var reviewPubTypes = map[string]bool{
	"review":    true,
	"editorial": true,
	"comment":   true,
}

// CompileSynonyms builds a case-insensitive word-boundary pattern over
// the protein synonyms. Returns nil when no usable synonym is given.
func CompileSynonyms(syns []string) *regexp.Regexp {
	var parts []string
	for _, s := range syns {
		s = strings.TrimSpace(s)
		if s != "" {
			parts = append(parts, regexp.QuoteMeta(s))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
}

// Signals carries the bibliometric inputs to the scorer.
type Signals struct {
	CitedByCount int
	IsOA         bool
	Venue        types.VenueMetrics
}

// Strategy is an optional scoring extension. The core scorer functions
// with no strategies configured; each configured strategy contributes
// additional points and a reason.
type Strategy interface {
	Name() string
	Score(a types.Article) (points int, reason string)
}

// Score computes the relevance score and the reasons contributing to it,
// in evaluation order. It is a pure function of its inputs: calling it
// twice with the same article, signals, and now yields identical output.
func Score(a types.Article, syn *regexp.Regexp, now time.Time, sig Signals, extra ...Strategy) (int, []string) {
	score := 0
	var reasons []string

	if syn != nil && syn.MatchString(a.Title+". "+a.Abstract) {
		score += 30
		reasons = append(reasons, "protein_synonym")
	}

	if pts, reason := noveltyPoints(a.Year, now); reason != "" {
		score += pts
		reasons = append(reasons, reason)
	}

	pts, reason := citationsPoints(sig.CitedByCount)
	score += pts
	reasons = append(reasons, reason)

	pts, reason = venueInfluencePoints(sig.Venue)
	score += pts
	reasons = append(reasons, reason)

	if sig.IsOA {
		score += 10
		reasons = append(reasons, "open_access")
	}

	if IsReview(a.PubTypes) {
		score -= 30
		reasons = append(reasons, "review_penalty")
	}

	if funcAssayPattern.MatchString(a.Title + ". " + a.Abstract) {
		score += 25
		reasons = append(reasons, "functional_assay_terms")
	}

	for _, s := range extra {
		pts, reason := s.Score(a)
		if pts != 0 {
			score += pts
			reasons = append(reasons, reason)
		}
	}

	return score, reasons
}

// IsReview reports whether any publication type marks the article as a
// review, editorial, or comment.
func IsReview(pubTypes []string) bool {
	for _, pt := range pubTypes {
		if reviewPubTypes[strings.ToLower(strings.TrimSpace(pt))] {
			return true
		}
	}
	return false
}

// noveltyPoints rewards recent publications: age ≤2 years scores 15,
// ≤5 scores 10, ≤10 scores 5, older nothing. The year term is the only
// date-dependent input to the score.
func noveltyPoints(year int, now time.Time) (int, string) {
	if year <= 0 {
		return 0, ""
	}
	age := now.Year() - year
	if age < 0 {
		age = 0
	}
	reason := fmt.Sprintf("novelty_%d", year)
	switch {
	case age <= 2:
		return 15, reason
	case age <= 5:
		return 10, reason
	case age <= 10:
		return 5, reason
	default:
		return 0, reason
	}
}

// citationsPoints maps citation count onto a log scale capped at 20 so a
// single hyper-cited outlier cannot dominate the score.
func citationsPoints(citedBy int) (int, string) {
	if citedBy < 0 {
		citedBy = 0
	}
	pts := int(math.Log1p(float64(citedBy)) * 5)
	if pts > 20 {
		pts = 20
	}
	return pts, fmt.Sprintf("citations_%d", citedBy)
}

// venueInfluencePoints tiers the venue's two-year mean citedness, or its
// h-index when citedness is unknown.
func venueInfluencePoints(v types.VenueMetrics) (int, string) {
	if v.TwoYearMeanCitedness != nil {
		x := *v.TwoYearMeanCitedness
		reason := fmt.Sprintf("venue_2yr_mean_citedness_%.2f", x)
		switch {
		case x >= 10:
			return 20, reason
		case x >= 5:
			return 15, reason
		case x >= 2:
			return 10, reason
		case x >= 1:
			return 5, reason
		default:
			return 0, reason
		}
	}
	if v.HIndex != nil {
		h := *v.HIndex
		switch {
		case h >= 200:
			return 20, "venue_h_index_200+"
		case h >= 100:
			return 15, "venue_h_index_100+"
		case h >= 50:
			return 10, "venue_h_index_50+"
		case h >= 20:
			return 5, "venue_h_index_20+"
		default:
			return 0, "venue_h_index_0"
		}
	}
	return 0, "venue_unknown"
}
