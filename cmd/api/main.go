package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/go-redis/redis_rate/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logs.New(cfg.LogLevel, cfg.ServiceName)
	if err := cfg.ValidateAPI(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Kafka producer, one writer for every order topic
	prod := kafkax.NewProducer(kafkax.NewWriter(cfg.KafkaBrokers), 1024, log)
	prod.Start()

	tokens, err := auth.NewJWTManager(cfg.AccessTokenSecret, cfg.TokenIssuer, time.Hour)
	if err != nil {
		log.Error("jwt manager", "error", err)
		os.Exit(1)
	}
	tokens.WithLeeway(cfg.TokenLeeway)

	svc := &orders.Service{
		Store:          &orders.Repo{DB: db},
		Payments:       payments.NewStripeGate(cfg.StripeSecretKey),
		Producer:       prod,
		Redis:          rdb,
		Metrics:        metrics.New(prometheus.DefaultRegisterer),
		Log:            log,
		ServiceName:    cfg.ServiceName,
		PaymentTimeout: cfg.PaymentTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	}
	oh := &httpx.OrdersHandler{
		Orders:        svc,
		Log:           log,
		CheckoutLimit: httpx.NewRateLimit(redis_rate.NewLimiter(rdb), cfg.CheckoutRatePerMinute, "rl:checkout", log),
	}
	router := httpx.NewRouter(log, tokens, oh)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush buffer
	prod.WaitClosed() // writer closed
}
