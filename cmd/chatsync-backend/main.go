package main

import (
	"context"
	"log"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"chatsync/internal/backend"
	"chatsync/internal/backend/csrf"
	"chatsync/internal/backend/db"
	"chatsync/internal/backend/repositories"
	"chatsync/internal/backend/ws"
	"chatsync/internal/observability"
)

type config struct {
	Port         string `env:"PORT" envDefault:"8083"`
	DBDSN        string `env:"DB_DSN"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"chatsync.events"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := initTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing()

	var convRepo repositories.ConversationRepository
	var msgRepo repositories.MessageRepository
	if cfg.DBDSN != "" {
		database, err := db.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		convRepo = repositories.NewConversationRepo(database)
		msgRepo = repositories.NewMessageRepo(database)
	} else {
		log.Println("no DB_DSN configured, using in-memory store")
		store := repositories.NewMemoryStore()
		convRepo = store
		msgRepo = store
	}

	if cfg.AMQPURL != "" {
		publisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("amqp telemetry disabled: %v", err)
		} else {
			observability.SetPublisher(publisher)
			defer publisher.Close()
		}
	}

	manager := csrf.NewManager()
	hub := ws.NewHub()
	router := backend.NewRouter(convRepo, msgRepo, manager, hub)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func initTracing(ctx context.Context, endpoint string) (func(), error) {
	if endpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("chatsync-backend"),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}, nil
}
