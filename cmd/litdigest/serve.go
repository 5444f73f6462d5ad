package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/llm"
	"github.com/HerbHall/litdigest/internal/server"
	"github.com/HerbHall/litdigest/internal/version"
	"github.com/HerbHall/litdigest/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: serve.addr from config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and live event stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		addr := a.cfg.Serve.Addr
		if v, _ := cmd.Flags().GetString("addr"); v != "" {
			addr = v
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := a.provider()
		if err != nil {
			return err
		}

		deps := server.Deps{
			Metrics:  a.metrics,
			Defaults: a.runOptions(),
			Probe: func(ctx context.Context) bool {
				return llm.Probe(ctx, p, a.logger.Named("probe"))
			},
		}

		l := a.openLedger(ctx)
		if l != nil {
			defer l.Close()
			deps.History = l
			deps.Ready = l.Ping
		}
		deps.Runner = a.worker(p, l)

		bus := event.NewBus(a.logger.Named("event"))
		deps.Bus = bus
		events := ws.NewHandler(bus, a.logger.Named("ws"))
		defer events.Close()

		srv := server.New(addr, deps, a.logger.Named("server"), events)
		a.logger.Info("litdigest server starting", zap.String("version", version.Short()))

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
