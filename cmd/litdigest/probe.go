package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/litdigest/internal/llm"
	"github.com/HerbHall/litdigest/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the configured LLM endpoint answers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.provider()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if !llm.Probe(ctx, p, a.logger) {
			return errors.New("LLM endpoint not reachable; see the log for details")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s (%s)\n", a.cfg.BaseURL, a.cfg.Model)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}
