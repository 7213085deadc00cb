package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"jukebox/internal/auth"
	"jukebox/internal/config"
	"jukebox/internal/jukebox"
	"jukebox/internal/ngrok"
	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ProviderAuth links a participant's account with the playback provider.
type ProviderAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, participantID, code string) error
	IsAuthenticated(ctx context.Context, participantID string) bool
}

// Commands issues playback commands and votes for a participant.
type Commands interface {
	Dispatch(ctx context.Context, code, participantID string, cmd models.Command) (*models.PlaybackSnapshot, error)
	Vote(ctx context.Context, code, participantID, trackID string) (models.Tally, error)
}

// Snapshots assembles the polled room view.
type Snapshots interface {
	Sync(ctx context.Context, code, participantID string) (*models.PlaybackSnapshot, error)
}

// Deps are the domain services the HTTP surface delegates to.
type Deps struct {
	Store    room.Store
	Commands Commands
	Sync     Snapshots
	Auth     *auth.Service
	Provider ProviderAuth
	Janitor  *room.Janitor
	Tunnel   *ngrok.Service
}

// RoomServer is the HTTP surface of the jukebox.
type RoomServer struct {
	config     *config.Config
	configPath string
	logger     *logrus.Logger
	router     *mux.Router

	store    room.Store
	commands Commands
	sync     Snapshots
	auth     *auth.Service
	provider ProviderAuth
	janitor  *room.Janitor
	tunnel   *ngrok.Service
	watcher  *fsnotify.Watcher
}

var _ Commands = (*jukebox.Dispatcher)(nil)
var _ Snapshots = (*jukebox.SyncService)(nil)

// NewRoomServer wires the routes. configPath, when set, is watched for live
// changes to the log level and the room inactivity window.
func NewRoomServer(cfg *config.Config, configPath string, deps Deps, logger *logrus.Logger) *RoomServer {
	rs := &RoomServer{
		config:     cfg,
		configPath: configPath,
		logger:     logger,
		store:      deps.Store,
		commands:   deps.Commands,
		sync:       deps.Sync,
		auth:       deps.Auth,
		provider:   deps.Provider,
		janitor:    deps.Janitor,
		tunnel:     deps.Tunnel,
	}
	rs.setupRoutes()
	return rs
}

// Handler returns the root handler with middleware applied.
func (rs *RoomServer) Handler() http.Handler {
	return rs.router
}

func (rs *RoomServer) setupRoutes() {
	r := mux.NewRouter()
	r.Use(rs.panicRecoveryMiddleware, rs.requestLoggingMiddleware, rs.corsMiddleware, rs.csrfMiddleware, rs.participantMiddleware)

	r.HandleFunc("/health", rs.handleHealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/csrf", rs.handleCSRFToken).Methods(http.MethodGet)
	api.HandleFunc("/config", rs.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/create-room", rs.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/update-room", rs.handleUpdateRoom).Methods(http.MethodPatch)
	api.HandleFunc("/get-room", rs.handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/join-room", rs.handleJoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/leave-room", rs.handleLeaveRoom).Methods(http.MethodPost)
	api.HandleFunc("/user-in-room", rs.handleUserInRoom).Methods(http.MethodGet)

	playback := r.PathPrefix("/playback").Subrouter()
	playback.HandleFunc("/play", rs.handleCommand(models.CommandPlay)).Methods(http.MethodPut)
	playback.HandleFunc("/pause", rs.handleCommand(models.CommandPause)).Methods(http.MethodPut)
	playback.HandleFunc("/skip", rs.handleCommand(models.CommandSkip)).Methods(http.MethodPost)

	r.HandleFunc("/votes/skip", rs.handleVoteSkip).Methods(http.MethodPost)
	r.HandleFunc("/room/{code}/sync", rs.handleSync).Methods(http.MethodGet)

	provider := r.PathPrefix("/spotify").Subrouter()
	provider.HandleFunc("/get-auth-url", rs.handleGetAuthURL).Methods(http.MethodGet)
	provider.HandleFunc("/redirect", rs.handleProviderRedirect).Methods(http.MethodGet)
	provider.HandleFunc("/is-authenticated", rs.handleIsAuthenticated).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rs.respondWithError(w, req, fmt.Errorf("no route for %s: %w", req.URL.Path, room.ErrNotFound))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rs.respondWithStatus(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	rs.router = r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (rs *RoomServer) Start(ctx context.Context) error {
	if rs.configPath != "" {
		if err := rs.startConfigWatcher(); err != nil {
			rs.logger.WithError(err).Warn("Could not watch configuration file")
		} else {
			defer rs.stopConfigWatcher()
		}
	}

	if rs.janitor != nil {
		go rs.janitor.Run(ctx)
	}

	listener, err := net.Listen("tcp", rs.config.GetAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rs.config.GetAddress(), err)
	}

	localAddress := fmt.Sprintf("http://%s", listener.Addr().String())
	rs.logger.WithFields(logrus.Fields{
		"address":  localAddress,
		"provider": rs.config.Provider.Name,
		"storage":  rs.config.Database.Driver,
	}).Info("Jukebox server starting")

	if rs.tunnel != nil {
		if err := rs.tunnel.StartTunnel(ctx, localAddress); err != nil {
			rs.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer rs.tunnel.Stop()
		}
	}

	httpServer := &http.Server{
		Handler:      rs.Handler(),
		ReadTimeout:  time.Duration(rs.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(rs.config.Server.WriteTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	rs.logger.Info("Shutting down jukebox server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	rs.logger.Info("Jukebox server shutdown complete")
	return nil
}
