package api

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Rooms is the read side of the room manager.
type Rooms interface {
	Rooms() []types.RoomInfo
	RoomInfo(name string) (types.RoomInfo, bool)
	Count() int
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: the HTTP layer only reads snapshots; every room
// mutation arrives over the websocket
type Server struct {
	rooms    Rooms
	registry Registry
	metrics  http.Handler
	ws       http.HandlerFunc
	origins  map[string]bool
	started  time.Time
	engine   *gin.Engine
}

// Options carries the optional pieces of the server. Nil handlers leave
// their routes unregistered.
type Options struct {
	Metrics        http.Handler
	WebSocket      http.HandlerFunc
	AllowedOrigins []string
}

func NewServer(rooms Rooms, registry Registry, opts Options) *Server {
	s := &Server{
		rooms:    rooms,
		registry: registry,
		metrics:  opts.Metrics,
		ws:       opts.WebSocket,
		origins:  make(map[string]bool),
		started:  time.Now(),
	}
	for _, origin := range opts.AllowedOrigins {
		s.origins[origin] = true
	}

	s.engine = gin.New()
	s.engine.RedirectTrailingSlash = false
	s.engine.RedirectFixedPath = false
	s.engine.Use(gin.Recovery(), requestLogger(), s.cors())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)

	api := s.engine.Group("/api")
	api.GET("/rooms", s.listRooms)
	api.GET("/rooms/:name", s.getRoom)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}
	if s.ws != nil {
		s.engine.GET("/ws", gin.WrapF(s.ws))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Rooms       int            `json:"rooms"`
	Connections map[string]int `json:"connections"`
	Goroutines  int            `json:"goroutines"`
}

type ListRoomsResponse struct {
	Rooms []types.RoomInfo `json:"rooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Rooms:       s.rooms.Count(),
		Connections: s.registry.GetStats(),
		Goroutines:  runtime.NumGoroutine(),
	})
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, ListRoomsResponse{Rooms: s.rooms.Rooms()})
}

func (s *Server) getRoom(c *gin.Context) {
	name := c.Param("name")
	if !types.IsValidRoomName(name) {
		sendError(c, http.StatusBadRequest, "Invalid room name")
		return
	}
	info, ok := s.rooms.RoomInfo(name)
	if !ok {
		sendError(c, http.StatusNotFound, "Room not found")
		return
	}
	c.JSON(http.StatusOK, info)
}

func sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// cors echoes allow-listed origins and falls back to "*" when no list is
// configured.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(s.origins) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case s.origins[origin] || s.origins[strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// upgraded sockets are logged by the websocket handler
		if c.FullPath() == "/ws" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
