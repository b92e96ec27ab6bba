package main

import (
	"flag"
	"log"
	"os"

	"PriceAlarm/internal/di"
	"PriceAlarm/pkg/config"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// a local .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s store=%s history=%s interval=%ds policy=%s",
		cfg.Environment, cfg.Store.Driver, cfg.History.Backend,
		cfg.Scheduler.IntervalSeconds, cfg.Scheduler.PostFirePolicy)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
