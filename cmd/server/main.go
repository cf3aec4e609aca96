package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/atomicswap/atomengine/internal/api"
	"github.com/atomicswap/atomengine/internal/auth"
	"github.com/atomicswap/atomengine/internal/config"
	"github.com/atomicswap/atomengine/internal/db"
	"github.com/atomicswap/atomengine/internal/exchange"
	"github.com/atomicswap/atomengine/internal/logging"
	"github.com/atomicswap/atomengine/internal/ratelimit"
	"github.com/atomicswap/atomengine/internal/server"

	"github.com/joho/godotenv"
)

const version = "0.2"

// Main entry point: loads config, restores state from the backing store,
// and runs the relay until interrupted.
func main() {
	godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup(config.LogConfig{Level: "info"}).Fatalf("Failed to load config: %v", err)
	}
	log := logging.Setup(cfg.Log)
	log.WithField("version", version).Info("atom engine start")

	ctx := context.Background()

	store, err := db.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open backing store: %v", err)
	}
	defer store.Close(ctx)

	// Load happens exactly once, before any connection is accepted.
	snap, err := store.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load engine data: %v", err)
	}
	log.WithField("orders", len(snap.Orders)).WithField("trades", len(snap.Trades)).Info("engine data loaded")

	engine := exchange.New(store, auth.SHA3{}, log)
	engine.Restore(snap)

	guard := ratelimit.NewGuard(ratelimit.Config{
		MaxRequestBytes: cfg.MaxRequestBytes,
		Window:          cfg.RateWindow(),
		MaxRequests:     cfg.RateLimit,
	}, snap.Blacklist)

	srv := server.New(server.Config{ListenAddr: cfg.ListenAddr}, engine, guard, store, log)
	if err := srv.Listen(); err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr, err)
	}

	if cfg.StatusAddr != "" {
		handler := api.NewHandler(srv)
		go func() {
			log.WithField("addr", cfg.StatusAddr).Info("status endpoints listening")
			if err := http.ListenAndServe(cfg.StatusAddr, handler.Router()); err != nil {
				log.WithError(err).Error("status listener failed")
			}
		}()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("atom engine was closed")
}
