package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"protoscript/internal/config"
	"protoscript/internal/jobs"
	"protoscript/internal/retention"
	"protoscript/internal/store"
)

func main() {
	minutes := flag.Int("minutes", 60, "Delete jobs older than this many minutes")
	flag.Parse()
	if *minutes < 0 {
		log.Fatalf("-minutes must not be negative")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	n, err := run(ctx, config.Load(), time.Duration(*minutes)*time.Minute)
	cancel()
	fmt.Printf("Successfully deleted %d old jobs.\n", n)
	if err != nil {
		log.Fatalf("cleanup: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, maxAge time.Duration) (int, error) {
	blob, err := store.OpenBlob(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("blob store: %w", err)
	}
	audit, err := store.OpenAuditLog(ctx, cfg.PostgresDSN)
	if err != nil {
		return 0, fmt.Errorf("audit log: %w", err)
	}
	var purger retention.Purger
	if audit != nil {
		defer audit.Close()
		purger = audit
	}
	return retention.NewSweeper(jobs.NewStore(blob), purger).Sweep(ctx, maxAge)
}
