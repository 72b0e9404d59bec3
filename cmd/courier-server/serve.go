package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/adapters/amqp"
	"github.com/coregx/courier/cmd/courier-server/internal/api"
	"github.com/coregx/courier/metrics"
	resendhook "github.com/coregx/courier/webhook/resend"
	"github.com/spf13/cobra"
	streadway "github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(envFile *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when AMQP_URL is set, the provider event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			if migrate {
				if err := runMigrations(ctx, rt); err != nil {
					return err
				}
			}

			return serve(ctx, rt)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg

	prom, err := metrics.New(nil)
	if err != nil {
		return err
	}

	engine, err := rt.engine(ctx, prom)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Services{
		Dispatcher:  engine.Dispatcher,
		Admin:       engine.Admin,
		Broadcaster: engine.Broadcaster,
		Public:      engine.Public,
		Preferences: engine.Preferences,
		Webhook:     engine.Webhook,
		Health:      rt.db.PingContext,
	}, rt.logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(api.RouterConfig{Metrics: prom, AdminAPIKey: cfg.Server.AdminAPIKey}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.AMQP.URL != "" {
		relay, err := amqp.NewRelay(cfg.AMQP.URL, engine.Ingestor,
			amqp.WithQueue(cfg.AMQP.Queue),
			amqp.WithPrefetch(cfg.AMQP.Prefetch),
			amqp.WithDecoder(decodeRelayed),
			amqp.WithLogger(rt.logger),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warnf("Server forced to shutdown: %v", err)
		}

		// Fire-and-forget sends outlive their requests.
		engine.Dispatcher.Wait()
		rt.logger.Info("Server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// decodeRelayed accepts both normalized provider events and raw Resend
// webhooks forwarded with their svix-id header.
func decodeRelayed(d streadway.Delivery) (courier.ProviderEvent, error) {
	if id := amqp.HeaderString(d, resendhook.HeaderID); id != "" {
		return resendhook.Parse(d.Body, id)
	}
	return amqp.DecodeProviderEvent(d)
}
