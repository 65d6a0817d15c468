// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/biokb/proteinkb/pkg/types"
)

// assayVocabulary seeds the semantic strategy's query vector alongside
// the protein synonyms.
var assayVocabulary = []string{
	"mutant", "variant", "substitution", "kinetics", "kcat", "km",
	"ic50", "ec50", "kd", "binding", "affinity", "activity", "assay",
	"stability", "melting", "fluorescence", "growth", "enzyme",
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// SemanticStrategy scores articles by token-frequency cosine similarity
// between the query vocabulary (synonyms plus assay terms) and the
// article title+abstract. It is deterministic and runs in-process; a
// model-backed strategy can replace it behind the same interface.
type SemanticStrategy struct {
	// Model names the configured embedding variant. Informational only
	// for the lexical implementation.
	Model string

	query map[string]float64
}

// NewSemanticStrategy builds the strategy for a set of protein synonyms.
func NewSemanticStrategy(model string, synonyms []string) *SemanticStrategy {
	query := make(map[string]float64)
	for _, s := range append(append([]string{}, synonyms...), assayVocabulary...) {
		for _, tok := range tokenize(s) {
			query[tok]++
		}
	}
	return &SemanticStrategy{Model: model, query: query}
}

// Name returns the strategy identifier.
func (s *SemanticStrategy) Name() string { return "semantic" }

// Score contributes up to 15 points proportional to cosine similarity.
func (s *SemanticStrategy) Score(a types.Article) (int, string) {
	doc := make(map[string]float64)
	for _, tok := range tokenize(a.Title + " " + a.Abstract) {
		doc[tok]++
	}
	sim := cosine(s.query, doc)
	pts := int(sim * 15)
	if pts == 0 {
		return 0, ""
	}
	return pts, fmt.Sprintf("semantic_similarity_%.2f", sim)
}

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, w := range a {
		na += w * w
		if bw, ok := b[tok]; ok {
			dot += w * bw
		}
	}
	for _, w := range b {
		nb += w * w
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
