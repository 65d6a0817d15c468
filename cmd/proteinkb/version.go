package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of proteinkb",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proteinkb %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
