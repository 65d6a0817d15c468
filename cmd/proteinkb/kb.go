// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/biokb/proteinkb/internal/knowledge"
	"github.com/biokb/proteinkb/pkg/types"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base (index, query, export, show)",
	Long: `Kb manages a local SQLite knowledge base built from extracted
variant-outcome records. Use subcommands to index records, query them,
export, or show a single record.`,
}

// --- index subcommand ---

var kbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest extracted records into the knowledge base",
	Long: `Index reads a kb.records.jsonl extraction file, loads it into a
SQLite database with FTS5 indexing, and records the file's modification
time. An unchanged file is skipped on subsequent runs.`,
	RunE: runKBIndex,
}

func runKBIndex(cmd *cobra.Command, args []string) error {
	recordsPath, _ := cmd.Flags().GetString("records")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Ingest(context.Background(), recordsPath, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d record line(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- query subcommand ---

var kbQueryCmd = &cobra.Command{
	Use:   "query [terms]",
	Short: "Query the knowledge base with full-text search and filters",
	Long: `Query searches the knowledge base using FTS5 full-text search,
structured filters (endpoint, pmid, direction), or a combination of both.
Full-text queries rank by relevance.`,
	RunE: runKBQuery,
}

func runKBQuery(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := queryOptsFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide search terms, --endpoint, --pmid, or --direction")
	}

	results, err := store.Retrieve(context.Background(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatQueryOutput(results, jsonOutput)
}

func formatQueryOutput(results []knowledge.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-16s  %-14s  %-10s  %-16s  %-10s  %-10s  %s\n",
		"Rank", "ID", "Variant", "Endpoint", "Value", "Direction", "PMID", "Table")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))

	for i, r := range results {
		variant := r.Variant.NormalizedHGVSP
		if variant == "" {
			variant = r.Variant.Raw
		}
		if len(variant) > 14 {
			variant = variant[:11] + "..."
		}
		value := "n.d."
		if r.Assay.Value != nil {
			value = strings.TrimSpace(fmt.Sprintf("%s%g %s",
				r.Assay.Qualifier, *r.Assay.Value, r.Assay.Unit))
		}
		if len(value) > 16 {
			value = value[:13] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-4d  %-16s  %-14s  %-10s  %-16s  %-10s  %-10s  %s\n",
			i+1, r.ID, variant, r.Assay.Endpoint, value,
			r.Derived.Direction, r.Source.PMID, r.Source.TableID)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

// --- export subcommand ---

var kbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge base to YAML or JSON",
	Long: `Export writes the full knowledge base (or a filtered subset) to
<kb-dir>/index/export.yaml or export.json. Supports the same filter
flags as query for partial exports.`,
	RunE: runKBExport,
}

func runKBExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := queryOptsFromFlags(cmd, args)
	kbDir, _ := cmd.Flags().GetString("kb-dir")

	switch format {
	case "yaml", "":
		if err := store.ExportYAML(context.Background(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/index/export.yaml\n", kbDir)
	case "json":
		if err := store.ExportJSON(context.Background(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/index/export.json\n", kbDir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	return nil
}

// --- show subcommand ---

var kbShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one record by its index identifier",
	RunE:  runKBShow,
}

func runKBShow(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one record id")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

// --- shared helpers ---

func openStore(cmd *cobra.Command) (*knowledge.Store, error) {
	kbDir, _ := cmd.Flags().GetString("kb-dir")
	if kbDir == "" {
		kbDir = "kb"
	}
	maxResults, _ := cmd.Flags().GetInt("max-results")

	return knowledge.NewStore(types.KnowledgeConfig{
		KnowledgeDir: kbDir,
		MaxResults:   maxResults,
	})
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) knowledge.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}

	endpoint, _ := cmd.Flags().GetString("endpoint")
	pmid, _ := cmd.Flags().GetString("pmid")
	direction, _ := cmd.Flags().GetString("direction")
	limit, _ := cmd.Flags().GetInt("limit")

	return knowledge.QueryOptions{
		Query:      queryText,
		Endpoint:   endpoint,
		PMID:       pmid,
		Direction:  direction,
		MaxResults: limit,
	}
}

func init() {
	// Shared flags on the parent command, inherited by subcommands.
	kbCmd.PersistentFlags().String("kb-dir", "kb", "base directory for the knowledge base (contains index/)")
	kbCmd.PersistentFlags().Int("max-results", 20, "maximum number of query results")

	// Index flags.
	kbIndexCmd.Flags().String("records", "kb/kb.records.jsonl", "extracted records file")

	// Query flags.
	kbQueryCmd.Flags().String("query", "", "full-text search query")
	kbQueryCmd.Flags().String("endpoint", "", "filter by canonical endpoint: kcat, Km, IC50, ...")
	kbQueryCmd.Flags().String("pmid", "", "filter by source PMID")
	kbQueryCmd.Flags().String("direction", "", "filter by direction: increase, decrease, no_change")
	kbQueryCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	kbQueryCmd.Flags().Bool("json", false, "output results as JSON")

	// Export flags.
	kbExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	kbExportCmd.Flags().String("query", "", "full-text search filter for partial export")
	kbExportCmd.Flags().String("endpoint", "", "filter by endpoint for partial export")
	kbExportCmd.Flags().String("pmid", "", "filter by PMID for partial export")
	kbExportCmd.Flags().String("direction", "", "filter by direction for partial export")

	// Wire subcommands.
	kbCmd.AddCommand(kbIndexCmd)
	kbCmd.AddCommand(kbQueryCmd)
	kbCmd.AddCommand(kbExportCmd)
	kbCmd.AddCommand(kbShowCmd)

	rootCmd.AddCommand(kbCmd)
}
