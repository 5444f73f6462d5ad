package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/qa"
	"github.com/HerbHall/litdigest/internal/tokens"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask <pdf>",
	Short: "Ask questions about one document",
	Long: `ask opens a conversation about a PDF. Questions are read from stdin, one per
line; "exit" or end of input quits. Every turn is appended to <name>.qa.md
next to the document and replayed the next time the document is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := a.provider()
		if err != nil {
			return err
		}

		deps := qa.Deps{
			Provider:  p,
			Extractor: a.extractor(),
			Templates: a.prompts,
			Metrics:   a.metrics,
		}
		if c, err := tokens.NewCounter(a.cfg.Model); err != nil {
			a.logger.Warn("token counting unavailable; history will not be trimmed", zap.Error(err))
		} else {
			deps.Counter = c
		}

		sess, err := qa.Open(args[0], deps, qa.Options{
			MaxTokens:        a.cfg.MaxTokens,
			ContextBudget:    a.cfg.ContextBudget(),
			MaxHistory:       a.cfg.MaxHistoryLength,
			SummaryThreshold: a.cfg.SummaryThreshold,
			Model:            a.cfg.Model,
			Stream:           a.cfg.StreamOutput,
			Timeout:          a.cfg.RequestTimeout,
		}, a.logger.Named("qa"))
		if err != nil {
			return err
		}
		defer sess.Close()

		return converse(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// asker is the part of a session the loop drives.
type asker interface {
	Ask(ctx context.Context, question string, events chan<- event.Event) (string, error)
}

// converse reads one question per line from in until EOF or "exit" and
// prints each answer to out. A failed turn is reported and the loop goes on.
func converse(ctx context.Context, sess *qa.Session, in io.Reader, out, errOut io.Writer) error {
	if summary, ok := sess.Summary().Get(); ok {
		fmt.Fprintf(out, "%s\n\n", strings.TrimSpace(summary))
	}
	if n := len(sess.History()); n > 0 {
		fmt.Fprintf(errOut, "restored %d messages from %s\n", n, sess.LogPath())
	}
	return askLoop(ctx, sess, in, out, errOut)
}

func askLoop(ctx context.Context, sess asker, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(errOut)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch q {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		events := make(chan event.Event, 64)
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			printAnswer(out, errOut, events)
		}()
		_, err := sess.Ask(ctx, q, events)
		close(events)
		<-printed

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, qa.ErrClosed) {
			return err
		}
	}
}

// printAnswer writes streamed deltas as they arrive. When nothing was
// streamed the final answer is written whole.
func printAnswer(out, errOut io.Writer, events <-chan event.Event) {
	streamed := false
	for ev := range events {
		switch ev.Kind {
		case event.KindAnswerDelta:
			streamed = true
			fmt.Fprint(out, ev.Message)
		case event.KindAnswer:
			if streamed {
				fmt.Fprint(out, "\n\n")
			} else {
				fmt.Fprintf(out, "%s\n\n", ev.Message)
			}
		case event.KindAnswerError:
			if streamed {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(errOut, "error: %s\n", ev.Message)
		case event.KindConversationSummary:
			fmt.Fprintln(errOut, "(conversation condensed into the turn log)")
		}
	}
}
