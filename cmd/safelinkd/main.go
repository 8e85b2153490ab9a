package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/safelink/safelink/internal/app"
	"github.com/safelink/safelink/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("Config error:", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalln("Failed to initialize application:", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Println("SafeLink sensor starting...")
	if err := application.Run(ctx); err != nil {
		log.Fatalln("Application error:", err)
	}
}
