// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pmcxml extracts structured variant-outcome records from the
// tables of full-text article XML.
package pmcxml

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/biokb/proteinkb/pkg/types"
)

// aa1to3 maps one-letter amino-acid codes to three-letter codes,
// including the rare Sec and Pyl.
var aa1to3 = map[string]string{
	"A": "Ala", "R": "Arg", "N": "Asn", "D": "Asp", "C": "Cys",
	"Q": "Gln", "E": "Glu", "G": "Gly", "H": "His", "I": "Ile",
	"L": "Leu", "K": "Lys", "M": "Met", "F": "Phe", "P": "Pro",
	"S": "Ser", "T": "Thr", "W": "Trp", "Y": "Tyr", "V": "Val",
	"U": "Sec", "O": "Pyl",
}

var aa3Set = func() map[string]bool {
	set := make(map[string]bool, len(aa1to3))
	for _, v := range aa1to3 {
		set[v] = true
	}
	return set
}()

var (
	hgvs3Pattern = regexp.MustCompile(`p\.\(?([A-Z][a-z]{2})(\d+)([A-Z][a-z]{2})\)?`)
	// oneLetterPattern requires the trailing code not to start a longer
	// word, so "A123Gly" is not misread as one-letter notation.
	oneLetterPattern   = regexp.MustCompile(`\b([A-Z])(\d+)([A-Z])($|[^a-zA-Z0-9])`)
	threeLetterPattern = regexp.MustCompile(`\b([A-Z][a-z]{2})(\d+)([A-Z][a-z]{2})\b`)
)

// normAA3 capitalizes a three-letter code and validates it against the
// known set. Unknown codes return "".
func normAA3(s string) string {
	if len(s) != 3 {
		return ""
	}
	s2 := strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	if aa3Set[s2] {
		return s2
	}
	return ""
}

// NormalizeVariant parses a variant cell into structured form. The
// notations are tried in order: HGVS protein ("p.(Ala123Gly)"),
// one-letter ("A123G"), bare three-letter ("Ala123Gly"). Text matching
// none of them is classified by keyword as deletion,
// insertion/duplication, or other. Raw is always preserved verbatim.
func NormalizeVariant(raw string) types.Variant {
	raw = strings.TrimSpace(raw)
	v := types.Variant{Raw: raw}
	if raw == "" {
		return v
	}

	if m := hgvs3Pattern.FindStringSubmatch(raw); m != nil {
		return substitution(raw, m[1], m[2], m[3])
	}
	if m := oneLetterPattern.FindStringSubmatch(raw); m != nil {
		ref3, refOK := aa1to3[m[1]]
		alt3, altOK := aa1to3[m[3]]
		if refOK && altOK {
			return substitution(raw, ref3, m[2], alt3)
		}
	}
	if m := threeLetterPattern.FindStringSubmatch(raw); m != nil {
		return substitution(raw, m[1], m[2], m[3])
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "del") || strings.Contains(raw, "Δ"):
		v.Type = "deletion"
	case strings.Contains(lower, "ins") || strings.Contains(lower, "dup"):
		v.Type = "insertion/duplication"
	default:
		v.Type = "other"
	}
	return v
}

func substitution(raw, ref3, pos, alt3 string) types.Variant {
	if n := normAA3(ref3); n != "" {
		ref3 = n
	}
	if n := normAA3(alt3); n != "" {
		alt3 = n
	}
	position, _ := strconv.Atoi(pos)
	return types.Variant{
		Raw:             raw,
		NormalizedHGVSP: "p." + ref3 + pos + alt3,
		Type:            "missense",
		Position:        position,
		RefAA:           ref3,
		AltAA:           alt3,
	}
}

// endpointEntry pairs a canonical endpoint with its header synonyms.
// Order matters: the first entry whose synonym matches wins, so kcat
// outranks Km for a "kcat/Km" header the same way every run.
type endpointEntry struct {
	canon    string
	synonyms []string
}

var endpointMap = []endpointEntry{
	{"kcat", []string{"kcat", "turnover", "turnover number"}},
	{"Km", []string{"km", "k m", "k_m"}},
	{"kcat/Km", []string{"kcat/km", "catalytic efficiency", "specificity constant"}},
	{"IC50", []string{"ic50", "inhibitory concentration 50", "inhibition 50"}},
	{"EC50", []string{"ec50"}},
	{"KD", []string{"kd", "k_d", "dissociation constant"}},
	{"Tm", []string{"tm", "t m", "melting temperature"}},
	{"ΔΔG", []string{"ddg", "ΔΔg", "delta delta g", "delta g"}},
	{"Activity", []string{"activity", "relative activity", "% activity", "percent activity", "enzyme activity"}},
	{"Binding", []string{"binding", "binding signal"}},
	{"Fluorescence", []string{"fluorescence", "rfu", "a.u."}},
	{"Growth", []string{"growth", "fitness", "od600", "od 600"}},
}

// assayTypeByEndpoint classifies each canonical endpoint into an assay
// family.
var assayTypeByEndpoint = map[string]string{
	"kcat":         "enzyme_kinetics",
	"Km":           "enzyme_kinetics",
	"kcat/Km":      "enzyme_kinetics",
	"IC50":         "inhibition",
	"EC50":         "activation",
	"KD":           "binding",
	"Tm":           "stability",
	"ΔΔG":          "stability",
	"Activity":     "activity",
	"Binding":      "binding",
	"Fluorescence": "reporter",
	"Growth":       "growth",
}

var (
	whitespacePattern   = regexp.MustCompile(`\s+`)
	parentheticalSuffix = regexp.MustCompile(`\(.*?\)`)
)

var variantHeaderWords = []string{
	"mutation", "mutant", "variant", "substitution", "construct",
	"change", "aa change", "amino acid",
}

var temperatureHeaderWords = []string{"temperature", "temp", "°c", "deg c", "celsius"}

// NormalizeHeaderName maps a raw column header onto its canonical name.
// Parentheticals (usually units) are stripped before matching; headers
// recognizing no canon come back unchanged apart from trimming.
func NormalizeHeaderName(h string) string {
	h0 := strings.TrimSpace(h)
	h1 := strings.ToLower(whitespacePattern.ReplaceAllString(h0, " "))
	h2 := strings.TrimSpace(parentheticalSuffix.ReplaceAllString(h1, ""))

	for _, e := range endpointMap {
		for _, s := range e.synonyms {
			if h2 == s || strings.Contains(h2, s) {
				return e.canon
			}
		}
	}
	for _, word := range variantHeaderWords {
		if strings.Contains(h2, word) {
			return "Variant"
		}
	}
	if h2 == "units" || h2 == "unit" {
		return "Units"
	}
	if h2 == "ph" {
		return "pH"
	}
	for _, word := range temperatureHeaderWords {
		if strings.Contains(h2, word) {
			return "Temperature"
		}
	}
	return h0
}

// valuePattern parses "12.3", "12.3 ± 0.4", "12.3 +/- 0.4", and
// "12.3 (0.4)" shapes after a leading qualifier is stripped.
var valuePattern = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)(?:\s*(?:±|\+/-)\s*([+-]?\d+(?:\.\d+)?))?(?:\s*\((\d+(?:\.\d+)?)\))?`)

// ParseValueWithError parses a numeric table cell: the value, an
// optional uncertainty term, and an optional "<"/">" qualifier. Decimal
// commas are treated as decimal points. Non-numeric cells return a nil
// value.
func ParseValueWithError(text string) (*float64, *types.ValueError, string) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, nil, ""
	}
	t = strings.ReplaceAll(t, ",", ".")

	qual := ""
	switch {
	case strings.HasPrefix(t, "<"):
		qual = "<"
		t = strings.TrimSpace(t[1:])
	case strings.HasPrefix(t, ">"):
		qual = ">"
		t = strings.TrimSpace(t[1:])
	}

	if m := valuePattern.FindStringSubmatch(t); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			var verr *types.ValueError
			switch {
			case m[2] != "":
				if e, err := strconv.ParseFloat(m[2], 64); err == nil {
					verr = &types.ValueError{Type: "unspecified", Value: e}
				}
			case m[3] != "":
				if e, err := strconv.ParseFloat(m[3], 64); err == nil {
					verr = &types.ValueError{Type: "unspecified", Value: e}
				}
			}
			return &val, verr, qual
		}
	}
	if val, err := strconv.ParseFloat(t, 64); err == nil {
		return &val, nil, qual
	}
	return nil, nil, ""
}

var unitsParenthetical = regexp.MustCompile(`\(([^)]+)\)`)
var unitsTrailing = regexp.MustCompile(`,\s*([^\s,]+)$`)

// parseUnitsFromHeader pulls a unit out of a header like "IC50 (nM)" or
// "Km, mM".
func parseUnitsFromHeader(h string) string {
	if m := unitsParenthetical.FindStringSubmatch(h); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := unitsTrailing.FindStringSubmatch(h); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var wtWords = map[string]bool{
	"wt":        true,
	"wild type": true,
	"wild-type": true,
	"wildtype":  true,
}

// isWT reports whether a variant cell denotes the wild-type baseline.
func isWT(s string) bool {
	s2 := strings.ToLower(strings.TrimSpace(s))
	s2 = strings.NewReplacer("—", "-", "–", "-").Replace(s2)
	return wtWords[s2]
}

// InferDirection classifies a fold change against the wild-type
// baseline. Changes within 5% of 1.0 count as no_change.
func InferDirection(fold *float64) string {
	if fold == nil {
		return ""
	}
	switch {
	case *fold > 1.05:
		return "increase"
	case *fold < 0.95:
		return "decrease"
	default:
		return "no_change"
	}
}
