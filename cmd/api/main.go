package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "protoscript/internal/api"
	"protoscript/internal/config"
	"protoscript/internal/jobs"
	"protoscript/internal/queue"
	"protoscript/internal/ratelimit"
	"protoscript/internal/retention"
	"protoscript/internal/store"
	"protoscript/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	blob, err := store.OpenBlob(ctx, cfg)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	st := jobs.NewStore(blob)

	audit, err := store.OpenAuditLog(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	var (
		recorder jobs.Recorder
		events   api.EventReader
		purger   retention.Purger
	)
	if audit != nil {
		defer audit.Close()
		recorder, events, purger = audit, audit, audit
	}

	var (
		q       queue.Queue
		limiter ratelimit.Limiter
		dlq     api.DLQReader
		pool    *worker.Pool
	)
	switch cfg.QueueBackend {
	case "memory":
		mq := queue.NewMemoryQueue(100)
		defer mq.Close()
		processor, err := worker.FromConfig(cfg, st, recorder, "api")
		if err != nil {
			log.Fatalf("worker: %v", err)
		}
		pool = worker.NewPool(mq, processor, cfg.WorkerConcurrency)
		pool.Depth = func(context.Context) (int64, error) { return int64(mq.Depth()), nil }
		q = mq
		limiter = ratelimit.NewLocalBucket(cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	case "redis":
		client := queue.NewRedisClient(cfg)
		defer client.Close()
		rq := queue.NewRedisQueue(client, cfg)
		q, dlq = rq, rq
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	default:
		log.Fatalf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	svc := jobs.NewService(st, q, recorder, cfg.DefaultTemplate)
	server := api.New(cfg, svc, limiter, events, dlq)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	poolDone := make(chan struct{})
	if pool != nil {
		log.Printf("api: running %d in-process workers", cfg.WorkerConcurrency)
		go func() {
			defer close(poolDone)
			_ = pool.Run(ctx)
		}()
		if cfg.RetentionInterval > 0 {
			go retention.NewSweeper(st, purger).Run(ctx, cfg.RetentionInterval, cfg.RetentionMaxAge)
		}
	} else {
		close(poolDone)
	}

	log.Printf("api listening on :%s (queue=%s blob=%s)", cfg.HTTPPort, cfg.QueueBackend, cfg.BlobBackend)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	<-poolDone
}
