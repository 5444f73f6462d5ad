package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/spf13/cobra"
)

func init() {
	runCmd.Flags().String("folder", "", "folder to scan (default: folder_path from config)")
	runCmd.Flags().Int("concurrency", 0, "maximum documents in flight (default: concurrency from config)")
	runCmd.Flags().Bool("no-cache", false, "do not write extracted text to the text cache")
	runCmd.Flags().Bool("no-report", false, "skip the overall report")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Summarize every PDF under a folder",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if v, _ := cmd.Flags().GetBool("no-cache"); v {
			a.cfg.CacheText = false
		}
		opts := a.runOptions()
		if v, _ := cmd.Flags().GetString("folder"); v != "" {
			opts.Folder = v
		}
		if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
			opts.Concurrency = v
		}
		if v, _ := cmd.Flags().GetBool("no-report"); v {
			opts.GenerateReport = false
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := a.provider()
		if err != nil {
			return err
		}
		l := a.openLedger(ctx)
		if l != nil {
			defer l.Close()
		}

		events := make(chan event.Event, 64)
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			printEvents(cmd.OutOrStdout(), events)
		}()

		out, err := a.worker(p, l).Run(ctx, opts, events)
		close(events)
		<-printed
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "run %s %s in %s\n", out.RunID, out.State, out.Elapsed.Round(time.Millisecond))
		if path, ok := out.ReportPath.Get(); ok {
			fmt.Fprintf(w, "overall report: %s\n", path)
		}
		if out.State == ledger.StateCancelled {
			return errors.New("run cancelled")
		}
		return nil
	},
}

// printEvents renders run events as progress lines until events is closed.
func printEvents(w io.Writer, events <-chan event.Event) {
	var done, total int
	for ev := range events {
		switch ev.Kind {
		case event.KindRunStarted:
			total = ev.Total
			fmt.Fprintf(w, "run %s: %s in %s\n", ev.Source, ev.Message, ev.Path)
		case event.KindJobResult:
			res, ok := ev.Data.(summarize.JobResult)
			if !ok {
				continue
			}
			done++
			fmt.Fprintf(w, "  [%d/%d] %-7s %s\n", done, total, res.Status, filepath.Base(res.SourcePath))
		case event.KindReport:
			fmt.Fprintf(w, "%s: %s\n", ev.Message, ev.Path)
		case event.KindError:
			fmt.Fprintf(w, "error: %s\n", ev.Message)
		case event.KindLog:
			fmt.Fprintln(w, ev.Message)
		}
	}
}
