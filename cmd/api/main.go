package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/api"
	"github.com/OneClickTag/jobrunner/internal/config"
	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/monitor"
	"github.com/OneClickTag/jobrunner/internal/queue"
	"github.com/OneClickTag/jobrunner/internal/scheduler"
)

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := queue.NewPGStore(pool)
	broker := queue.NewRedisBroker(rdb)

	queues := make(map[domain.QueueName]*queue.Queue, len(domain.Queues()))
	for _, name := range domain.Queues() {
		queues[name] = queue.New(name, broker, store, queue.DefaultOptions(name), log)
	}

	sched := scheduler.New(queues, log)
	mon := monitor.New(queues, store, sched, monitor.DefaultThresholds(), log)
	handler := api.NewHandler(mon, log)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("monitoring api listening", zap.String("addr", cfg.APIAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serve failed", zap.Error(err))
	}
}
