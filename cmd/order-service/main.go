package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/orderflow/internal/api"
	"github.com/dmehra2102/orderflow/internal/app"
	"github.com/dmehra2102/orderflow/internal/config"
	orderapp "github.com/dmehra2102/orderflow/internal/order/application"
	orderkafka "github.com/dmehra2102/orderflow/internal/order/infrastructure/kafka"
	paymentapp "github.com/dmehra2102/orderflow/internal/payment/application"
	"github.com/dmehra2102/orderflow/pkg/health"
	"github.com/dmehra2102/orderflow/pkg/logging"
	"github.com/dmehra2102/orderflow/pkg/outbox"
	"github.com/dmehra2102/orderflow/pkg/shutdown"
	"github.com/dmehra2102/orderflow/pkg/tracing"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "order-service",
		Short:        "Orders and idempotent payments over HTTP",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health and outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel)
			store, err := app.OpenStore(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "driver", cfg.StoreDriver)
			return store.Close()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfg config.Config) error {
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	hs, err := health.Run(log, cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}

	store, err := app.OpenStore(ctx, log, cfg)
	if err != nil {
		hs.Stop()
		return err
	}
	defer store.Close()

	orders := orderapp.NewService(log, store)
	payments := paymentapp.NewService(log, store)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Log:       log,
			Orders:    orders,
			Payments:  payments,
			JWTSecret: []byte(cfg.JWTSecret),
			RateLimit: cfg.RateLimitRPS,
			RateBurst: cfg.RateBurst,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if store.Pool != nil {
		writer := orderkafka.NewWriter(cfg.KafkaBrokers())
		defer writer.Close()
		dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
		relay := outbox.NewRelay(log, outbox.NewPostgresStore(log, store.Pool), dispatch, "order-service-relay")
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		hs.SetServing(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		hs.Stop()
		return err
	})

	hs.SetServing(true)
	err = g.Wait()
	log.Info("order-service shutdown complete")
	return err
}
