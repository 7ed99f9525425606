// cmd/historian/main.go is an asynchronous historian service that pops deck records from the Redis journal and persists them to PostgreSQL.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pickup/internal/cache"
	"github.com/jason-s-yu/pickup/internal/codec"
	"github.com/jason-s-yu/pickup/internal/config"
	"github.com/jason-s-yu/pickup/internal/database"
	"github.com/jason-s-yu/pickup/internal/historian"
	"github.com/jason-s-yu/pickup/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	envFile := flag.String("env", "", "extra env file to load on top of .env")
	migrate := flag.Bool("migrate", false, "create the archive tables before starting")
	show := flag.String("show", "", "print the latest archived deck for a session id and exit")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.PostgresURL(), logger)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	store := database.NewSnapshotStore(pool)

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatalf("%v", err)
		}
		logger.Info("archive tables ready")
	}

	if *show != "" {
		sessionID, err := uuid.Parse(*show)
		if err != nil {
			logger.Fatalf("invalid session id %q: %v", *show, err)
		}
		rec, err := store.LatestSnapshot(ctx, sessionID)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		line, err := codec.Encode(rec.Deck())
		if err != nil {
			logger.Fatalf("%v", err)
		}
		logger.Infof("session %s deck #%d from %s", rec.SessionID, rec.Sequence, rec.Dealer)
		os.Stdout.WriteString(line + "\n")
		return
	}

	if !cfg.JournalEnabled() {
		logger.Fatal("REDIS_ADDR must be set for the historian")
	}
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer rdb.Close()

	hs := historian.NewService(cache.NewJournal(rdb, cfg.JournalQueue), store, cfg.HistorianBatchSize, cfg.HistorianFlush, logger)
	if err := hs.Run(ctx); err != nil {
		logger.Errorf("historian: %v", err)
	}
	logger.Info("Historian shutdown complete.")
}
