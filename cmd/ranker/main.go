package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/gift-orders/internal/config"
	kafkax "github.com/ariefcatur/gift-orders/internal/kafka"
	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/ranking"
	"github.com/ariefcatur/gift-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNewLogger(cfg.ServiceName+"-ranker", cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &ranking.Service{Redis: rdb, Log: log}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RankingGroup, orders.TopicOrderPlaced, cfg.RankingWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("ranker_started",
			zap.String("group", cfg.RankingGroup),
			zap.String("topic", orders.TopicOrderPlaced),
			zap.Int("workers", cfg.RankingWorkers))
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down")
	cancel()
	<-done
}
