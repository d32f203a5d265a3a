package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presensi/internal/config"
	"presensi/internal/metrics"
	"presensi/internal/notify"
	"presensi/internal/queue"
	"presensi/internal/store"
)

// Worker drains the notification outbox and hands events to the external
// dispatch service. Delivery is best-effort with a couple of retries; a
// dead dispatch service only delays notifications, attendance writes have
// long since committed.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	// The dispatch counters live in this process, so the worker serves
	// its own scrape endpoint on a side port.
	go func() {
		if err := http.ListenAndServe(":"+cfg.WorkerHTTPPort, metricsMux()); err != nil {
			log.Printf("metrics listener failed: %v", err)
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	dispatch := notify.NewClient(cfg.NotifierURL, cfg.NotifierSkip)
	if !cfg.NotifierSkip {
		if err := dispatch.Health(ctx); err != nil {
			log.Printf("WARNING: notification service not available: %v", err)
			log.Println("worker will retry delivery as events arrive")
		} else {
			log.Println("notification service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	for msg := range messages {
		if msg.Type != "notify" {
			continue
		}

		var evt notify.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad event payload, dropping: %v", err)
			metrics.NotificationsSent.WithLabelValues("malformed").Inc()
			continue
		}

		if err := deliverWithRetry(ctx, dispatch, evt); err != nil {
			log.Printf("delivery failed for %s/%s: %v", evt.Type, evt.StudentID, err)
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			continue
		}
		metrics.NotificationsSent.WithLabelValues("delivered").Inc()
		log.Printf("delivered %s notification for student %s", evt.Type, evt.StudentID)
	}

	log.Println("worker stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func deliverWithRetry(ctx context.Context, c *notify.Client, evt notify.Event) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = c.Deliver(ctx, evt); err == nil {
			return nil
		}
	}
	return err
}
