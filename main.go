package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/markus-fitmoji/orbital-match-colyseus/config"
	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/monitor"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/server"
	"github.com/markus-fitmoji/orbital-match-colyseus/timer"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize persistence. Gameplay never waits for the database;
	// a missing host or a failed connection means the in-memory store.
	store := openStore(cfg)
	defer store.Close()

	// Timer manager drives leave-grace purges
	timers := timer.NewTimerManager()
	defer timers.Stop()

	// Metrics endpoint
	mon := monitor.NewMonitor("orbital_match")
	mon.StartServer(cfg.Server.MetricsAddress)

	// Initialize Game Server
	gameServer := server.NewGameServer(
		cfg.Server.HTTPAddress,
		cfg.Server.RPCAddress,
		store,
		timers,
		mon,
		cfg.Game.MaxPlayers,
		cfg.Game.Wildcards,
	)

	// Start Server
	go func() {
		logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		if err := gameServer.Start(); err != nil {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等停机信号，再排空房间，保证每个快照都已落库
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutdown signal received.")
	gameServer.Shutdown()
}

func openStore(cfg *config.Config) persistence.Store {
	pg := cfg.Database.Postgres
	if pg.Host == "" {
		logger.Log.Info("No database host configured, using in-memory store.")
		return persistence.NewMemoryStore()
	}

	var store persistence.Store
	var err error
	switch cfg.Database.Driver {
	case "postgres":
		store, err = persistence.NewSQLStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		store, err = persistence.NewGormStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
	if err != nil {
		logger.Log.Errorf("Database connection failed, falling back to in-memory store: %v", err)
		return persistence.NewMemoryStore()
	}

	logger.Log.Infof("Database connection successful (driver=%s).", cfg.Database.Driver)
	return store
}
