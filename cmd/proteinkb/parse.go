// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/biokb/proteinkb/internal/pmcxml"
	"github.com/biokb/proteinkb/pkg/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse-pmc",
	Short: "Extract variant-outcome records from saved full-text XML",
	Long: `Parse-pmc walks the triage ledger, parses every saved full-text XML
file, and extracts variant-outcome records from tables that report
measured endpoints (kcat, Km, IC50, Tm, ...). Records are written one
JSON line each to the output file.`,
	RunE: runParse,
}

func init() {
	addProteinFlags(parseCmd)
	parseCmd.Flags().String("triage", "out/triage/triage.jsonl", "triage ledger file")
	parseCmd.Flags().String("out", "kb/kb.records.jsonl", "output records file")

	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	name, synonyms, err := proteinFromFlags(cmd)
	if err != nil {
		return err
	}

	triagePath, _ := cmd.Flags().GetString("triage")
	outPath, _ := cmd.Flags().GetString("out")

	extractor := &pmcxml.Extractor{
		Protein: types.Protein{QueryName: name, Synonyms: synonyms[1:]},
	}
	count, err := extractor.ParseFromTriage(triagePath, outPath, os.Stdout)
	if err != nil {
		return err
	}

	fmt.Printf("\nExtracted %d records to %s\n", count, outPath)
	return nil
}
