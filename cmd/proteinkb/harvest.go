// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/biokb/proteinkb/internal/harvest"
	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Collect article metadata for a protein from PubMed",
	Long: `Harvest searches PubMed for the query protein and its synonyms,
collects the newest matching PMIDs (windowing the search by date when the
result set exceeds what one query can return), fetches article metadata,
and writes <prefix>.pubmed.jsonl, .pubmed.csv, and .pubmed.pmids.txt.`,
	RunE: runHarvest,
}

func init() {
	addProteinFlags(harvestCmd)
	harvestCmd.Flags().String("out-prefix", "out/articles/articles", "output path prefix")
	harvestCmd.Flags().Int("max-results", 0, "cap on collected articles (0 = all)")
	harvestCmd.Flags().String("field", "tiab", "PubMed field to search synonyms in")
	harvestCmd.Flags().String("date-type", "pdat", "PubMed date axis: pdat or edat")
	harvestCmd.Flags().String("ncbi-api-key", "", "NCBI API key (default: .secrets/ncbi-api-key)")
	harvestCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	_, synonyms, err := proteinFromFlags(cmd)
	if err != nil {
		return err
	}

	outPrefix, _ := cmd.Flags().GetString("out-prefix")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	field, _ := cmd.Flags().GetString("field")
	dateType, _ := cmd.Flags().GetString("date-type")
	apiKeyFlag, _ := cmd.Flags().GetString("ncbi-api-key")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cfg := types.HarvestConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		OutPrefix:  outPrefix,
		MaxResults: maxResults,
		Field:      field,
		DateType:   dateType,
		NCBIAPIKey: secretDefault("ncbi-api-key", apiKeyFlag),
	}

	harvester := newHarvester(cfg)
	_, err = harvester.Run(cmd.Context(), cfg, synonyms, os.Stdout)
	return err
}

func newHarvester(cfg types.HarvestConfig) *harvest.Harvester {
	client := httputil.NewClient(
		&http.Client{Timeout: cfg.Timeout},
		harvest.NewRegistry(cfg.NCBIAPIKey),
		cfg.UserAgent,
		defaultMaxRetries,
	)
	return &harvest.Harvester{
		Client:   client,
		APIKey:   cfg.NCBIAPIKey,
		DateType: cfg.DateType,
	}
}
