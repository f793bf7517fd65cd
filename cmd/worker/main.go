package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"litsearch/internal/activities"
	"litsearch/internal/config"
	"litsearch/internal/storage"
	"litsearch/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	a, err := activities.New(cfg, db, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	activities.Register(w, a)

	log.Printf("litsearch worker listening on %s queue=%s embed_providers=%q model=%q", cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.EmbedProviders, cfg.EmbedModel)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
