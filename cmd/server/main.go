// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-scraper-service/internal/config"
	"lead-scraper-service/internal/provider"
	"lead-scraper-service/internal/repository/postgresql"
	"lead-scraper-service/internal/runner"
	"lead-scraper-service/internal/scheduler"
	"lead-scraper-service/internal/service"
	"lead-scraper-service/internal/singleflight"
	httptransport "lead-scraper-service/internal/transport/http"
)

const runRetention = 30 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	// Redis
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	// DI
	users := postgresql.NewUserRepository(pool)
	jobs := postgresql.NewJobRepository(pool)
	history := postgresql.NewHistoryRepository(pool)
	usage := postgresql.NewUsageRepository(pool)

	serp := provider.NewSerpClient(cfg.SerpAPIKey, cfg.SerpBaseURL)
	runs := runner.New(serp, provider.PageSize, runRetention)
	guard := singleflight.New(rdb, runRetention)

	credits := service.NewCreditService(users, usage)
	searchSvc := service.NewSearchService(serp, users, credits, history)
	streamSvc := service.NewStreamService(users, credits, jobs, history, runs, guard,
		cfg.MaxPerRun, time.Duration(cfg.PollIntervalMS)*time.Millisecond)
	userSvc := service.NewUserService(users, credits, usage, history)

	// Janitor: periodically evicts terminal run state past the retention
	// window so the run map stays bounded.
	go runs.Janitor(ctx, 5*time.Minute)

	// Monthly plan credit refill
	refiller := scheduler.New(users, cfg.RefillSpec)
	if err := refiller.Start(ctx); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	defer refiller.Stop()

	h := httptransport.NewHandler(searchSvc, streamSvc, userSvc)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httptransport.Routes(h, cfg.JWTSecret),
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
		// No WriteTimeout: SSE streams stay open for the life of a run.
	}

	go func() {
		log.Printf("server started: addr=%s max_per_run=%d", srv.Addr, cfg.MaxPerRun)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	log.Println("server stopped")
}
