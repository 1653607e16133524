package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dmehra2102/orderflow/internal/app"
	"github.com/dmehra2102/orderflow/internal/config"
	orderapp "github.com/dmehra2102/orderflow/internal/order/application"
	orderkafka "github.com/dmehra2102/orderflow/internal/order/infrastructure/kafka"
	"github.com/dmehra2102/orderflow/pkg/health"
	"github.com/dmehra2102/orderflow/pkg/idempotency"
	"github.com/dmehra2102/orderflow/pkg/logging"
	"github.com/dmehra2102/orderflow/pkg/shutdown"
	"github.com/dmehra2102/orderflow/pkg/tracing"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "fulfillment-worker",
		Short:        "Marks orders as shipped from shipment.dispatched events",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logging.New(cfg.LogLevel)
	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "fulfillment-worker", cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	hs, err := health.Run(log, cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}
	defer hs.Stop()

	store, err := app.OpenStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.DedupeTTL, idempotency.WithPrefix(cfg.ConsumerGroup))
	if err := idem.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	svc := orderapp.NewService(log, store)
	reader := orderkafka.NewReader(cfg.KafkaBrokers(), cfg.ShipmentTopic, cfg.ConsumerGroup)
	consumer := orderkafka.NewShipmentConsumer(log, reader, svc, idem)

	hs.SetServing(true)
	log.Info("fulfillment-worker consuming", "topic", cfg.ShipmentTopic, "group", cfg.ConsumerGroup)
	if err := consumer.Run(ctx); err != nil {
		log.Error("consumer stopped", "err", err)
		return err
	}
	log.Info("fulfillment-worker shutdown")
	return nil
}
