package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"litsearch/internal/api"
	"litsearch/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	log.Printf("litsearch api listening on %s embed_providers=%q fusion=%q", cfg.APIAddr, cfg.EmbedProviders, cfg.FusionMethod)
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		log.Fatal(err)
	}
}
