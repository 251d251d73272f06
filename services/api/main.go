package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/wearable-agreement/services/api/config"
	"github.com/02loveslollipop/wearable-agreement/services/api/db"
	httpserver "github.com/02loveslollipop/wearable-agreement/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	devices, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		log.Fatalf("devices error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	srv := httpserver.New(cfg, store, devices)
	log.Printf("REST API listening on %s (%d devices configured)", cfg.ListenAddr(), len(devices))

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
