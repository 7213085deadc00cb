package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"jukebox/internal/auth"
	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/internal/jukebox"
	"jukebox/internal/ngrok"
	"jukebox/internal/player"
	"jukebox/internal/player/scripted"
	"jukebox/internal/provider/spotify"
	"jukebox/internal/room"
	"jukebox/internal/server"
	"jukebox/internal/vote"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	configureLogger(logger, &cfg.Logging)

	codes := room.NewCodeGenerator(cfg.Rooms.CodeLength, cfg.Rooms.CodeAlphabet, cfg.Rooms.MaxCodeAttempts)

	var store room.Store
	var db *database.Database
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, codes, logger)
		if err != nil {
			logger.WithError(err).Fatal("Error initializing database")
		}
		defer db.Close()
		store = db
	default:
		store = room.NewMemoryStore(codes)
		logger.Warn("Using in-memory room storage; rooms are lost on restart")
	}

	var provider player.Provider
	var providerAuth server.ProviderAuth
	switch cfg.Provider.Name {
	case "spotify":
		if db == nil {
			// Linked accounts still need somewhere to live.
			db, err = database.NewDatabase(":memory:", 1, codes, logger)
			if err != nil {
				logger.WithError(err).Fatal("Error initializing token storage")
			}
			defer db.Close()
		}
		sealer, err := spotify.NewSealer(sealKey(cfg, logger))
		if err != nil {
			logger.WithError(err).Fatal("Error creating token sealer")
		}
		client := spotify.NewClient(spotify.Options{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			RedirectURI:  cfg.Provider.RedirectURI,
			APIBase:      cfg.Provider.APIBase,
			AccountsBase: cfg.Provider.AccountsBase,
		}, db, sealer, logger)
		provider, providerAuth = client, client
	default:
		fake := scripted.New("demo-track-1", "demo-track-2", "demo-track-3", "demo-track-4")
		provider, providerAuth = fake, fake
		logger.Warn("Using the fake playback provider")
	}

	controller := player.NewController(provider, player.Options{
		Timeout:    cfg.Provider.RequestTimeout.Duration,
		RetryMin:   cfg.Provider.RetryMin.Duration,
		RetryMax:   cfg.Provider.RetryMax.Duration,
		StateTTL:   cfg.Provider.StateCacheTTL.Duration,
		MaxRetries: 1,
	}, logger)
	defer controller.Close()

	votes := vote.NewCoordinator(store, controller, logger)
	syncService := jukebox.NewSyncService(store, controller, votes, cfg.Server.PollInterval.Duration, logger)
	dispatcher := jukebox.NewDispatcher(store, controller, votes, syncService, logger)

	authService, err := auth.NewService(&cfg.Auth, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating session service")
	}
	defer authService.Close()

	janitor := room.NewJanitor(store, cfg.Rooms.JanitorInterval.Duration, cfg.Rooms.InactivityWindow.Duration, logger,
		votes, authService.GetSessionManager())

	tunnel, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		tunnel = nil
	}

	roomServer := server.NewRoomServer(cfg, *configPath, server.Deps{
		Store:    store,
		Commands: dispatcher,
		Sync:     syncService,
		Auth:     authService,
		Provider: providerAuth,
		Janitor:  janitor,
		Tunnel:   tunnel,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roomServer.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Received shutdown signal")
}

func configureLogger(logger *logrus.Logger, cfg *config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).WithField("file", cfg.File).Warn("Could not open log file, logging to stderr")
			return
		}
		logger.SetOutput(f)
	}
}

// sealKey returns the secret provider tokens are sealed with.
func sealKey(cfg *config.Config, logger *logrus.Logger) string {
	if cfg.Auth.SessionKey != "" {
		return cfg.Auth.SessionKey
	}
	// Tokens sealed with the client secret survive restarts but rotate with it.
	logger.Warn("JUKEBOX_SESSION_KEY not set; sealing provider tokens with the client secret")
	return cfg.Provider.ClientSecret
}
