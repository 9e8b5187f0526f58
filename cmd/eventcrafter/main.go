package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"eventcrafter/internal/bot"
	"eventcrafter/internal/bot/api"
	"eventcrafter/internal/config"
	"eventcrafter/internal/database/migrations"
	"eventcrafter/internal/draft"
	draftdb "eventcrafter/internal/draft/db"
	"eventcrafter/internal/event"
	eventdb "eventcrafter/internal/event/db"
	"eventcrafter/internal/kafka"
	"eventcrafter/internal/logger"
	"eventcrafter/internal/roster"
	rediswrap "eventcrafter/internal/roster/redis"
	"eventcrafter/internal/scheduler"
	schedulerdb "eventcrafter/internal/scheduler/db"
	"eventcrafter/internal/telegram"
)

func main() {
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("MAIN", fmt.Sprintf("open postgres: %v", err))
	}
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("MAIN", fmt.Sprintf("connect to postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MAIN", fmt.Sprintf("run migrations: %v", err))
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("MAIN", fmt.Sprintf("connect to redis: %v", err))
	}
	eventLock := rediswrap.NewRedis(redisClient, cfg.Redis.LockTTL)

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.EventCreated,
			cfg.Kafka.Topics.EventDeleted,
			cfg.Kafka.Topics.RosterChanged,
			cfg.Kafka.Topics.ReminderSent,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("MAIN", fmt.Sprintf("ensure kafka topics: %v", err))
		}
	}
	producer := kafka.NewProducer(cfg.Kafka, log)
	defer producer.Close()

	// --- Services ---
	loc := cfg.Location()
	eventStore := &eventdb.DB{Bun: bunDB}
	draftStore := &draftdb.DB{Bun: bunDB}
	jobStore := &schedulerdb.DB{Bun: bunDB}

	messenger := telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.Token, &http.Client{Timeout: 10 * time.Second}, log)

	jobs := scheduler.NewSchedulerService(jobStore, nil, log, loc, cfg.Schedule.DayReminder, cfg.Schedule.MinutesReminder)
	events := event.NewEventService(eventStore, jobs, messenger, producer, log)
	rosterSvc := roster.NewRosterService(eventStore, eventLock, producer, log)
	drafts := draft.NewDraftService(draftStore, eventStore, jobs, producer, log, loc)

	orchestrator := bot.NewOrchestrator(drafts, rosterSvc, events, eventLock, messenger, producer, log)
	jobs.Dispatcher = orchestrator

	// Rebuild timers from the scheduled_jobs table before accepting input.
	if err := jobs.Recover(); err != nil {
		log.Fatal("MAIN", fmt.Sprintf("recover scheduled jobs: %v", err))
	}

	// --- HTTP ---
	handler := api.NewHandler(orchestrator, events, rosterSvc, log)
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("MAIN", fmt.Sprintf("EventCrafter listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("MAIN", fmt.Sprintf("http server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("MAIN", "Shutdown signal received, cleaning up...")

	jobs.Stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("MAIN", fmt.Sprintf("forced shutdown: %v", err))
	}

	log.Info("MAIN", "Server exited gracefully")
}
