package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/spf13/cobra"
)

func init() {
	runsCmd.Flags().Int("limit", 20, "number of runs to list; 0 lists all")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded batch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		l := a.openLedger(cmd.Context())
		if l == nil {
			return errors.New("run history is not available; check ledger_path")
		}
		defer l.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := l.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs yet; start one with 'litdigest run'")
			return nil
		}
		writeRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its per-document results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		l := a.openLedger(cmd.Context())
		if l == nil {
			return errors.New("run history is not available; check ledger_path")
		}
		defer l.Close()

		run, results, err := l.GetRun(cmd.Context(), args[0])
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("run %q not found", args[0])
		}
		if err != nil {
			return err
		}
		writeRun(cmd.OutOrStdout(), run, results)
		return nil
	},
}

func writeRuns(w io.Writer, runs []ledger.Run) {
	fmt.Fprintf(w, "%-26s %-16s %-10s %5s %5s %5s  %s\n", "ID", "STARTED", "STATE", "OK", "SKIP", "FAIL", "FOLDER")
	for _, r := range runs {
		fmt.Fprintf(w, "%-26s %-16s %-10s %5d %5d %5d  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.State,
			r.Tally.Success,
			r.Tally.Skipped,
			r.Tally.Failed,
			r.Folder,
		)
	}
}

func writeRun(w io.Writer, run *ledger.Run, results []ledger.Result) {
	fmt.Fprintf(w, "Run:     %s\n", run.ID)
	fmt.Fprintf(w, "Folder:  %s\n", run.Folder)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.EndedAt != nil {
		fmt.Fprintf(w, "Ended:   %s\n", run.EndedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "State:   %s\n", run.State)
	fmt.Fprintf(w, "Tally:   %d succeeded, %d skipped, %d failed of %d\n",
		run.Tally.Success, run.Tally.Skipped, run.Tally.Failed, run.Total)
	if run.ReportPath != "" {
		fmt.Fprintf(w, "Report:  %s\n", run.ReportPath)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", run.Error)
	}
	fmt.Fprintln(w)

	for _, r := range results {
		line := fmt.Sprintf("%4d %-7s %8s  %s", r.Seq, r.Status, r.Elapsed.Round(time.Millisecond), filepath.Base(r.SourcePath))
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
}
