// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/biokb/proteinkb/internal/knowledge"
	"github.com/biokb/proteinkb/internal/pmcxml"
	"github.com/biokb/proteinkb/internal/triage"
	"github.com/biokb/proteinkb/pkg/types"
)

var buildKBCmd = &cobra.Command{
	Use:   "build-kb",
	Short: "Run the full pipeline: harvest, triage, parse-pmc, index",
	Long: `Build-kb runs every pipeline stage in order for one query protein:
harvest article metadata from PubMed, triage and resolve open-access full
text, extract variant-outcome records from the saved XML, and index the
records into the knowledge base under <kb-dir>.`,
	RunE: runBuildKB,
}

func init() {
	addProteinFlags(buildKBCmd)
	buildKBCmd.Flags().String("out-dir", "out", "working directory for intermediate stage outputs")
	buildKBCmd.Flags().String("kb-dir", "kb", "base directory for the knowledge base")
	buildKBCmd.Flags().Int("max-results", 0, "cap on harvested articles (0 = all)")
	buildKBCmd.Flags().String("field", "tiab", "PubMed field to search synonyms in")
	buildKBCmd.Flags().String("date-type", "pdat", "PubMed date axis: pdat or edat")
	buildKBCmd.Flags().Int("score-threshold", 0, "keep threshold (0 = default 50)")
	buildKBCmd.Flags().String("ncbi-api-key", "", "NCBI API key (default: .secrets/ncbi-api-key)")
	buildKBCmd.Flags().String("unpaywall-email", "", "Unpaywall contact email (default: .secrets/unpaywall-email)")
	buildKBCmd.Flags().String("openalex-mailto", "", "OpenAlex polite-pool email (default: .secrets/openalex-mailto)")
	buildKBCmd.Flags().Bool("use-semantic", false, "enable the semantic-similarity scoring strategy")
	buildKBCmd.Flags().String("sem-model", "", "semantic model variant name")
	buildKBCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(buildKBCmd)
}

func runBuildKB(cmd *cobra.Command, args []string) error {
	name, synonyms, err := proteinFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg := pipelineConfigFromFlags(cmd)
	ctx := cmd.Context()
	start := time.Now()

	// Stage 1: harvest.
	fmt.Println("=== harvest ===")
	harvester := newHarvester(cfg.Harvest)
	hSummary, err := harvester.Run(ctx, cfg.Harvest, synonyms, os.Stdout)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	if hSummary.Articles == 0 {
		fmt.Println("Nothing harvested; stopping.")
		return nil
	}

	// Stage 2: triage.
	fmt.Println("\n=== triage ===")
	articles, err := triage.LoadArticles(cfg.Harvest.OutPrefix + ".pubmed.jsonl")
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	runner := newTriageRunner(cfg.Triage, synonyms)
	tSummary, err := runner.Run(ctx, articles, synonyms, os.Stdout)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}

	// Stage 3: extraction. Runs even with zero fulltexts so the records
	// file always exists for indexing.
	fmt.Println("\n=== parse-pmc ===")
	extractor := &pmcxml.Extractor{
		Protein: types.Protein{QueryName: name, Synonyms: synonyms[1:]},
	}
	count, err := extractor.ParseFromTriage(cfg.Extract.TriagePath, cfg.Extract.OutPath, os.Stdout)
	if err != nil {
		return fmt.Errorf("parse-pmc: %w", err)
	}
	fmt.Printf("Extracted %d records\n", count)

	// Stage 4: index.
	fmt.Println("\n=== kb index ===")
	store, err := knowledge.NewStore(cfg.Knowledge)
	if err != nil {
		return fmt.Errorf("kb index: %w", err)
	}
	defer store.Close()
	iSummary, err := store.Ingest(context.Background(), cfg.Extract.OutPath, os.Stdout)
	if err != nil {
		return fmt.Errorf("kb index: %w", err)
	}

	fmt.Printf("\nPipeline done in %s: %d articles, %d kept, %d fulltexts, %d records indexed\n",
		time.Since(start).Round(time.Second),
		tSummary.Articles, tSummary.Kept, tSummary.Fulltexts, iSummary.Indexed)
	return nil
}

func pipelineConfigFromFlags(cmd *cobra.Command) types.PipelineConfig {
	outDir, _ := cmd.Flags().GetString("out-dir")
	kbDir, _ := cmd.Flags().GetString("kb-dir")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	field, _ := cmd.Flags().GetString("field")
	dateType, _ := cmd.Flags().GetString("date-type")
	apiKeyFlag, _ := cmd.Flags().GetString("ncbi-api-key")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpCfg := types.HTTPConfig{Timeout: timeout, UserAgent: defaultUserAgent}

	triageCfg := triageConfigFromFlags(cmd)
	triageCfg.OutDir = filepath.Join(outDir, "triage")

	return types.PipelineConfig{
		Harvest: types.HarvestConfig{
			HTTPConfig: httpCfg,
			OutPrefix:  filepath.Join(outDir, "articles", "articles"),
			MaxResults: maxResults,
			Field:      field,
			DateType:   dateType,
			NCBIAPIKey: secretDefault("ncbi-api-key", apiKeyFlag),
		},
		Triage: triageCfg,
		Extract: types.ExtractConfig{
			TriagePath: filepath.Join(outDir, "triage", "triage.jsonl"),
			OutPath:    filepath.Join(kbDir, "kb.records.jsonl"),
		},
		Knowledge: types.KnowledgeConfig{
			KnowledgeDir: kbDir,
		},
	}
}
