package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "proteinkb/0.2").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// HarvestConfig holds settings for the PubMed harvest stage.
type HarvestConfig struct {
	HTTPConfig `yaml:",inline"`

	// OutPrefix is the output path prefix; the stage writes
	// <prefix>.pubmed.jsonl, <prefix>.pubmed.csv, <prefix>.pubmed.pmids.txt.
	OutPrefix string `json:"out_prefix" yaml:"out_prefix"`

	// MaxResults caps how many latest articles to collect; 0 means all.
	MaxResults int `json:"max_results" yaml:"max_results"`

	// Field is the PubMed field synonyms are searched in (default "tiab").
	Field string `json:"field" yaml:"field"`

	// DateType selects the PubMed date axis: "pdat" or "edat".
	DateType string `json:"date_type" yaml:"date_type"`

	// NCBIAPIKey raises the NCBI rate limit from 3 to 10 rps.
	NCBIAPIKey string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty"`
}

// TriageConfig holds settings for the triage stage.
type TriageConfig struct {
	HTTPConfig `yaml:",inline"`

	// OutDir is the triage output directory (ledger, keep list,
	// fulltext_xml/, fulltext_oa/).
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// ScoreThreshold gates full-text fetching and the keep list; an
	// article qualifies when not a review and score > threshold.
	ScoreThreshold int `json:"score_threshold" yaml:"score_threshold"`

	// UnpaywallEmail enables the Unpaywall route; when empty that route
	// is skipped entirely.
	UnpaywallEmail string `json:"unpaywall_email,omitempty" yaml:"unpaywall_email,omitempty"`

	// OpenAlexMailto is sent as the mailto parameter for polite pool access.
	OpenAlexMailto string `json:"openalex_mailto,omitempty" yaml:"openalex_mailto,omitempty"`

	// UseSemantic enables the semantic-similarity scoring strategy.
	UseSemantic bool `json:"use_semantic" yaml:"use_semantic"`

	// SemModel names the semantic model variant; informational only for
	// the built-in lexical strategy.
	SemModel string `json:"sem_model,omitempty" yaml:"sem_model,omitempty"`
}

// ExtractConfig holds settings for the table extraction stage.
type ExtractConfig struct {
	// TriagePath is the triage ledger to read full-text paths from.
	TriagePath string `json:"triage_path" yaml:"triage_path"`

	// OutPath is the destination kb.records.jsonl file.
	OutPath string `json:"out_path" yaml:"out_path"`
}

// KnowledgeConfig holds settings for the knowledge index stage.
type KnowledgeConfig struct {
	// KnowledgeDir is the base directory for the index (contains index/, export.yaml).
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// PipelineConfig groups all stage configurations for build-kb.
type PipelineConfig struct {
	Harvest   HarvestConfig   `json:"harvest" yaml:"harvest"`
	Triage    TriageConfig    `json:"triage" yaml:"triage"`
	Extract   ExtractConfig   `json:"extract" yaml:"extract"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
}
