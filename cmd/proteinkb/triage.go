// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/internal/triage"
	"github.com/biokb/proteinkb/pkg/types"
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Score harvested articles and resolve open-access full text",
	Long: `Triage scores each harvested article for experimental relevance
(synonym match, novelty, citations, venue influence, functional-assay
language), then resolves open-access full text for articles that pass the
keep threshold: Europe PMC XML first, then OpenAlex-listed URLs, then
Unpaywall. Results go to <out-dir>/triage.jsonl and keep.pmids.txt;
fetched artifacts to fulltext_xml/ and fulltext_oa/.`,
	RunE: runTriage,
}

func init() {
	addProteinFlags(triageCmd)
	triageCmd.Flags().String("articles", "out/articles/articles.pubmed.jsonl", "harvested articles file")
	triageCmd.Flags().String("out-dir", "out/triage", "triage output directory")
	triageCmd.Flags().Int("score-threshold", 0, "keep threshold (0 = default 50)")
	triageCmd.Flags().String("unpaywall-email", "", "Unpaywall contact email (default: .secrets/unpaywall-email)")
	triageCmd.Flags().String("openalex-mailto", "", "OpenAlex polite-pool email (default: .secrets/openalex-mailto)")
	triageCmd.Flags().Bool("use-semantic", false, "enable the semantic-similarity scoring strategy")
	triageCmd.Flags().String("sem-model", "", "semantic model variant name")
	triageCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(triageCmd)
}

func runTriage(cmd *cobra.Command, args []string) error {
	_, synonyms, err := proteinFromFlags(cmd)
	if err != nil {
		return err
	}

	articlesPath, _ := cmd.Flags().GetString("articles")
	cfg := triageConfigFromFlags(cmd)

	articles, err := triage.LoadArticles(articlesPath)
	if err != nil {
		return err
	}

	runner := newTriageRunner(cfg, synonyms)
	_, err = runner.Run(cmd.Context(), articles, synonyms, os.Stdout)
	return err
}

func triageConfigFromFlags(cmd *cobra.Command) types.TriageConfig {
	outDir, _ := cmd.Flags().GetString("out-dir")
	threshold, _ := cmd.Flags().GetInt("score-threshold")
	unpaywallEmail, _ := cmd.Flags().GetString("unpaywall-email")
	openAlexMailto, _ := cmd.Flags().GetString("openalex-mailto")
	useSemantic, _ := cmd.Flags().GetBool("use-semantic")
	semModel, _ := cmd.Flags().GetString("sem-model")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return types.TriageConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		OutDir:         outDir,
		ScoreThreshold: threshold,
		UnpaywallEmail: secretDefault("unpaywall-email", unpaywallEmail),
		OpenAlexMailto: secretDefault("openalex-mailto", openAlexMailto),
		UseSemantic:    useSemantic,
		SemModel:       semModel,
	}
}

func newTriageRunner(cfg types.TriageConfig, synonyms []string) *triage.Runner {
	client := httputil.NewClient(
		&http.Client{Timeout: cfg.Timeout},
		triage.NewRegistry(),
		cfg.UserAgent,
		defaultMaxRetries,
	)
	runner := &triage.Runner{Client: client, Cfg: cfg}
	if cfg.UseSemantic {
		runner.Strategies = append(runner.Strategies,
			triage.NewSemanticStrategy(cfg.SemModel, synonyms))
	}
	return runner
}
