package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/gift-orders/internal/auth"
	"github.com/ariefcatur/gift-orders/internal/config"
	"github.com/ariefcatur/gift-orders/internal/httpx"
	kafkax "github.com/ariefcatur/gift-orders/internal/kafka"
	"github.com/ariefcatur/gift-orders/internal/kakao"
	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/ariefcatur/gift-orders/internal/memory"
	"github.com/ariefcatur/gift-orders/internal/metrics"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/postgres"
	"github.com/ariefcatur/gift-orders/internal/ranking"
	"github.com/ariefcatur/gift-orders/internal/redisx"
	"github.com/ariefcatur/gift-orders/internal/tracing"
	"github.com/ariefcatur/gift-orders/internal/users"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracing_init_failed", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = tp.Shutdown(sctx)
	}()

	// Stores
	var (
		userStore users.Store
		uow       orders.UnitOfWork
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := memory.NewStore()
		seedDemo(mem)
		userStore, uow = memory.NewUsers(), mem
		log.Warn("memory_store_in_use", zap.String("note", "data is lost on restart"))
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db_connect_failed", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db_migrate_failed", zap.Error(err))
		}
		userStore, uow = &users.Repo{DB: db}, &orders.Repo{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	placed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	placed.Start(ctx)
	notifyFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderNotificationFailed, 1024, log)
	notifyFailed.Start(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	kc := kakao.NewClient(kakao.Config(cfg.Kakao), log)
	userSvc := &users.Service{Store: userStore, Tokens: tokens, Kakao: kc}
	orderSvc := &orders.Service{
		Tokens:             tokens,
		Users:              userSvc,
		Store:              uow,
		Notifier:           kc,
		PlacedEvents:       placed,
		NotifyFailedEvents: notifyFailed,
		Metrics:            metrics.NewOrders(reg),
		Log:                log,
		ServiceName:        cfg.ServiceName,
		MaxAttempts:        cfg.OrderMaxAttempts,
	}

	router := httpx.NewRouter(
		httpx.RouterConfig{Log: log, Metrics: metrics.NewHTTP(reg), Gatherer: reg},
		&httpx.OrdersHandler{Orders: orderSvc, Tokens: tokens, Redis: rdb},
		&httpx.UsersHandler{Users: userSvc, Kakao: kc},
		&httpx.RankingsHandler{Rankings: &ranking.Service{Redis: rdb, Log: log}},
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	// no request can publish any more; flush and close the writers
	placed.Close()
	notifyFailed.Close()
	placed.WaitClosed()
	notifyFailed.WaitClosed()
}

func seedDemo(s *memory.Store) {
	p := s.AddProduct("Americano")
	s.AddOption(p, "ICE", 100)
	s.AddOption(p, "HOT", 100)
}
