package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"github.com/example/notify/internal/common"
	"github.com/example/notify/internal/dispatch"
	"github.com/example/notify/internal/events"
	"github.com/example/notify/internal/notification"
	"github.com/example/notify/internal/provider"
	"github.com/example/notify/internal/sender"
	"github.com/example/notify/internal/simulator"
	"github.com/example/notify/internal/template"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("sender")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort)
	defer metricsSrv.Shutdown(context.Background())

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL must be provided")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	registry := provider.NewRegistry(
		provider.NewDefinition("mmg", notification.ChannelSMS, 10).WithSMS(&provider.MMGClient{
			Endpoint: envOr("MMG_ENDPOINT", "https://api.mmg.local"),
			APIKey:   os.Getenv("MMG_API_KEY"),
		}, true),
		provider.NewDefinition("firetext", notification.ChannelSMS, 20).WithSMS(&provider.FiretextClient{
			Endpoint: envOr("FIRETEXT_ENDPOINT", "https://www.firetext.local"),
			APIKey:   os.Getenv("FIRETEXT_API_KEY"),
		}, false),
		provider.NewDefinition("ses", notification.ChannelEmail, 10).WithEmail(&provider.SESClient{
			Endpoint: envOr("SES_ENDPOINT", "https://ses.local"),
			APIKey:   os.Getenv("SES_API_KEY"),
		}),
	)

	statsWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.StatsTopic,
		Balancer: &kafka.Hash{},
	}
	defer statsWriter.Close()

	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.DLQTopic,
		Balancer: &kafka.Hash{},
	}
	defer dlqWriter.Close()

	orchestrator := dispatch.NewOrchestrator(
		notification.NewPostgresStore(pool),
		template.NewPostgresStore(pool),
		registry,
		&simulator.HTTPResponder{CallbackBaseURL: cfg.CallbackBaseURL},
		&events.KafkaHook{Writer: statsWriter},
		cfg.EmailDomain,
		logger,
	)

	worker := sender.Worker{
		ReaderFactory: func() *kafka.Reader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.ServiceName,
				Topic:   cfg.NotificationTopic,
			})
		},
		DLQWriter:  dlqWriter,
		Dispatcher: orchestrator,
		Logger:     logger,
	}

	logger.Info().Msg("sender worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("sender worker stopped")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
