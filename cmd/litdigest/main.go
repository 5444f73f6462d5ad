// Command litdigest summarizes folders of PDF papers with an LLM, writes an
// overall report, and answers questions about individual documents.
package main

import (
	"fmt"
	"os"

	"github.com/HerbHall/litdigest/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "litdigest",
	Short: "Batch-summarize PDF literature with an LLM",
	Long: `litdigest summarizes every PDF under a folder, one Markdown summary next to
each document, builds an overall report from the summaries, and holds
persistent Q&A conversations about a single document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
