package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/internal/api"
	"liveclass/internal/config"
	"liveclass/internal/metrics"
	"liveclass/internal/room"
	"liveclass/internal/router"
	"liveclass/internal/statusfeed"
	"liveclass/internal/websocket"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Application coordinates all system components.
// Initialization order: Metrics → Router → Rooms → Status feed → Registry →
// WebSocket → API → HTTP
type Application struct {
	config     *config.Config
	metrics    *metrics.Metrics
	limiter    *router.RateLimiter
	rooms      *room.Manager
	status     *statusfeed.Publisher
	registry   *websocket.Registry
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()

	var limiter *router.RateLimiter
	if cfg.RateLimit.Limit > 0 {
		limiter = router.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	messageRouter := router.NewRouter(limiter, m)

	rooms := room.NewManager(room.Config{
		MaxChatLog:       cfg.Room.MaxChatLog,
		BroadcasterGrace: cfg.Room.BroadcasterGrace,
		QueueSize:        cfg.Room.QueueSize,
	}, messageRouter, m)

	var status *statusfeed.Publisher
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		publisher, err := statusfeed.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, statusfeed.Options{Prefix: cfg.Redis.Prefix})
		if err != nil {
			rooms.Close()
			return nil, fmt.Errorf("failed to connect status feed: %w", err)
		}
		status = publisher
		rooms.Subscribe(types.TypeSessionStatus, status.Hook())
		logger.Info("status feed enabled", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
	}

	registry := websocket.NewRegistry()
	wsHandler := websocket.NewHandler(registry, rooms, limiter, m, websocket.Options{
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       cfg.WebSocket.BufferSize,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
	})

	apiServer := api.NewServer(rooms, registry, api.Options{
		Metrics:        m.Handler(),
		WebSocket:      wsHandler.HandleWebSocket,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})

	// no WriteTimeout: it would cut long-lived upgraded connections
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{
		config:     cfg,
		metrics:    m,
		limiter:    limiter,
		rooms:      rooms,
		status:     status,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start binds the listen address and serves in the background. It returns
// once the socket is bound, so GetAddr reports the real port afterwards.
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	logger.Info("liveclass relay started", zap.String("addr", ln.Addr().String()), zap.String("mode", app.config.Mode))
	return nil
}

// Stop shuts down in reverse order: HTTP, sockets, rooms, status feed.
func (app *Application) Stop(ctx context.Context) error {
	logger.Info("shutting down liveclass relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	// Shutdown does not touch hijacked websocket connections
	app.registry.CloseAll()
	app.rooms.Close()

	if app.status != nil {
		if err := app.status.Close(); err != nil {
			logger.Warn("status feed shutdown error", zap.Error(err))
		}
	}

	logger.Info("liveclass relay shutdown complete")
	logger.Sync()
	return nil
}

// Handler exposes the full HTTP surface, mainly for httptest servers.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Rooms exposes the room manager.
func (app *Application) Rooms() *room.Manager {
	return app.rooms
}

// GetAddr returns the bound address once started, the configured one before.
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
