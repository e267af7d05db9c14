package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/cache"
	"github.com/OneClickTag/jobrunner/internal/config"
	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
	"github.com/OneClickTag/jobrunner/internal/queue"
	"github.com/OneClickTag/jobrunner/internal/scheduler"
	"github.com/OneClickTag/jobrunner/internal/worker"
)

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(cfg.PostgresDSN); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := queue.NewPGStore(pool)
	broker := queue.NewRedisBroker(rdb)

	workers := map[domain.QueueName]int{
		domain.QueuePlatformSync: cfg.SyncWorkers,
		domain.QueueBulkImport:   cfg.ImportWorkers,
		domain.QueueAPIRetry:     cfg.RetryWorkers,
		domain.QueueAggregation:  cfg.AggregationWorkers,
	}
	queues := make(map[domain.QueueName]*queue.Queue, len(domain.Queues()))
	for _, name := range domain.Queues() {
		opts := queue.DefaultOptions(name)
		if n := workers[name]; n > 0 {
			opts.Workers = n
		}
		queues[name] = queue.New(name, broker, store, opts, log)
	}

	tenantCache := cache.New(cfg.CacheTTL, cfg.CacheSweep, log)
	defer tenantCache.Stop()

	hc := &http.Client{Timeout: 30 * time.Second}
	ads := platform.NewHTTPAdPlatform(cfg.AdsAPIBaseURL, hc)
	tags := platform.NewHTTPTagManager(cfg.GTMAPIBaseURL, hc)
	customers := platform.NewHTTPCustomerService(cfg.CustomerAPIBaseURL, hc)
	webhook := platform.NewHTTPReplayer(hc)
	aggStore := platform.NewPGAggregationStore(pool)

	sched := scheduler.New(queues, log)
	sched.StartRecurring()
	defer sched.StopRecurring()

	// When a replay reports shouldRetryAgain, the scheduler re-enqueues
	// the next attempt; the processor never touches queue state itself.
	retryHook := func(ctx context.Context, job *domain.Job, result *domain.JobResult) {
		again, _ := result.Data["shouldRetryAgain"].(bool)
		if !again {
			return
		}
		next, _ := result.Data["nextRetryCount"].(int)
		payload, ok := job.Payload.(domain.APIRetryPayload)
		if !ok {
			return
		}
		lastErr := ""
		if len(result.Errors) > 0 {
			lastErr = result.Errors[0]
		}
		if _, err := sched.ReenqueueRetry(ctx, payload, next, lastErr); err != nil {
			log.Error("re-enqueue replay failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	pools := []*worker.Pool{
		worker.NewPool(queues[domain.QueuePlatformSync], worker.NewPlatformSync(tags, ads, log), log),
		worker.NewPool(queues[domain.QueueBulkImport], worker.NewBulkImport(customers, tenantCache, log), log),
		worker.NewPool(queues[domain.QueueAPIRetry],
			worker.NewAPIRetry(ads, tags, customers, webhook, log), log,
			worker.WithResultHook(retryHook)),
		worker.NewPool(queues[domain.QueueAggregation],
			worker.NewAggregation(ads, tenantCache, aggStore, log), log),
	}
	for _, p := range pools {
		p.Start(ctx)
	}

	// Promote due delayed jobs on a short tick.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			for _, p := range pools {
				p.Stop()
			}
			return
		case <-tick.C:
			sched.MoveDue(ctx, 200)
		}
	}
}
