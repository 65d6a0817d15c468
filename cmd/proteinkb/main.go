// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the proteinkb CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biokb/proteinkb/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

const defaultUserAgent = "proteinkb/0.2"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns the secret value for key if it exists, or fallback otherwise.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the proteinkb CLI.
var rootCmd = &cobra.Command{
	Use:   "proteinkb",
	Short: "Build a variant-outcome knowledge base from the PubMed literature",
	Long: `proteinkb harvests PubMed for articles about a query protein, triages
them for experimental relevance, resolves open-access full text, extracts
variant-outcome records from full-text tables, and indexes the records in
a searchable SQLite knowledge base.

Each pipeline stage is a subcommand: harvest, triage, parse-pmc, and kb.
build-kb runs the whole pipeline in one invocation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

// addProteinFlags registers the query-protein flags shared by every
// pipeline stage command.
func addProteinFlags(cmd *cobra.Command) {
	cmd.Flags().String("protein", "", "query protein name (required)")
	cmd.Flags().StringArray("syn", nil, "protein synonym (repeatable)")
	cmd.MarkFlagRequired("protein")
}

// proteinFromFlags returns the protein name and the full synonym list
// (name first).
func proteinFromFlags(cmd *cobra.Command) (string, []string, error) {
	name, _ := cmd.Flags().GetString("protein")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("--protein is required")
	}
	extra, _ := cmd.Flags().GetStringArray("syn")

	synonyms := []string{name}
	for _, s := range extra {
		if s = strings.TrimSpace(s); s != "" {
			synonyms = append(synonyms, s)
		}
	}
	return name, synonyms, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./proteinkb.yaml or ~/.config/proteinkb/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("proteinkb")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "proteinkb"))
		}
	}

	viper.SetEnvPrefix("PROTEINKB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
