// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Protein identifies the query protein an extraction run was performed for.
type Protein struct {
	QueryName string   `json:"query_name"`
	Synonyms  []string `json:"synonyms,omitempty"`
	UniProt   string   `json:"uniprot,omitempty"`
}

// RecordSource locates the table a record was extracted from.
type RecordSource struct {
	PMID    string `json:"pmid"`
	PMCID   string `json:"pmcid,omitempty"`
	DOI     string `json:"doi,omitempty"`
	TableID string `json:"table_id,omitempty"`
	Caption string `json:"caption,omitempty"`
	File    string `json:"file,omitempty"`
}

// Variant is a parsed genetic-variant description. Raw always carries
// the original cell text; the structured fields are populated only when
// the text matches a recognized substitution notation.
type Variant struct {
	Raw string `json:"raw"`

	// NormalizedHGVSP is the protein-level HGVS form ("p.Ala123Gly"),
	// empty when the variant is not a recognized substitution.
	NormalizedHGVSP string `json:"normalized_hgvs_p,omitempty"`

	// Type classifies the variant: missense, deletion,
	// insertion/duplication, or other.
	Type string `json:"type,omitempty"`

	Position int    `json:"position,omitempty"`
	RefAA    string `json:"ref_aa,omitempty"`
	AltAA    string `json:"alt_aa,omitempty"`
}

// ValueError is an uncertainty term attached to a measured value.
type ValueError struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Assay holds one measured endpoint for one variant.
type Assay struct {
	// Type is the assay family (enzyme_kinetics, binding, stability, ...).
	Type string `json:"type,omitempty"`

	// Endpoint is the canonical metric name (kcat, Km, IC50, ...).
	Endpoint string `json:"endpoint"`

	// Value is the parsed numeric value; nil when the cell held no number.
	Value *float64 `json:"value"`

	// Qualifier preserves a leading "<" or ">" from the cell text.
	Qualifier string `json:"qualifier,omitempty"`

	Unit  string      `json:"unit,omitempty"`
	Error *ValueError `json:"error,omitempty"`

	// N is the replicate count, when reported.
	N *int `json:"n,omitempty"`

	// Conditions holds assay conditions keyed by canonical header (pH,
	// Temperature) when the table reports them.
	Conditions map[string]string `json:"conditions,omitempty"`
}

// Comparator is a named reference value a record is compared against.
type Comparator struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Derived holds values computed relative to the wild-type baseline.
type Derived struct {
	// FoldChangeVsWT is value divided by the table's wild-type baseline
	// for the same endpoint; nil when no baseline was available.
	FoldChangeVsWT *float64 `json:"fold_change_vs_wt,omitempty"`

	// Direction classifies the fold change: increase (>1.05),
	// decrease (<0.95), or no_change.
	Direction string `json:"direction,omitempty"`
}

// OutcomeRecord is one "variant → functional outcome" extraction,
// produced per (table row × metric column). Records are immutable and
// serialized one JSON line each to kb.records.jsonl.
type OutcomeRecord struct {
	Protein     Protein      `json:"protein"`
	Source      RecordSource `json:"source"`
	Variant     Variant      `json:"variant"`
	Assay       Assay        `json:"assay"`
	Comparators []Comparator `json:"comparators"`
	Derived     Derived      `json:"derived"`
}
