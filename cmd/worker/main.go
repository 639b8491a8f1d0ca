package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"protoscript/internal/config"
	"protoscript/internal/jobs"
	"protoscript/internal/queue"
	"protoscript/internal/retention"
	"protoscript/internal/store"
	"protoscript/internal/telemetry"
	"protoscript/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis; the memory queue runs inside the api process")
	}

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
		purger   retention.Purger
	)
	if audit != nil {
		defer audit.Close()
		recorder, purger = audit, audit
	}

	client := queue.NewRedisClient(cfg)
	defer client.Close()
	q := queue.NewRedisQueue(client, cfg)

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor, err := worker.FromConfig(cfg, st, recorder, workerID)
	if err != nil {
		log.Fatalf("init worker: %v", err)
	}
	pool := worker.NewPool(q, processor, cfg.WorkerConcurrency)
	pool.Heartbeat = q.LeaseInterval()
	pool.Depth = q.ReadyDepth

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	if cfg.RetentionInterval > 0 {
		go retention.NewSweeper(st, purger).Run(ctx, cfg.RetentionInterval, cfg.RetentionMaxAge)
	}

	log.Printf("worker %s started with concurrency=%d visibility=%s engine=%s", workerID, cfg.WorkerConcurrency, cfg.VisibilityTimeout, cfg.STTEngine)
	if err := pool.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
