package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-orders/internal/audit"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-audit"
	log := logs.New(cfg.LogLevel, name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Error("migrate", "error", err)
			os.Exit(1)
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &audit.Service{DB: db, Redis: rdb, Log: log, ServiceName: name}

	topics := []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}
	reader := kafkax.NewReader(cfg.KafkaBrokers, cfg.AuditGroup, topics...)
	cons := kafkax.NewConsumer(reader, cfg.AuditWorkers, log)

	log.Info("audit consumer started", "group", cfg.AuditGroup, "topics", topics, "workers", cfg.AuditWorkers)
	if err := cons.Start(ctx, svc.Handle); err != nil {
		log.Error("consumer exit", "error", err)
		os.Exit(1)
	}
	log.Info("audit consumer stopped")
}
