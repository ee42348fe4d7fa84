package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveclass/internal/identity"
	"liveclass/internal/metrics"
	"liveclass/internal/room"
	"liveclass/internal/router"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Options tunes the websocket endpoint.
type Options struct {
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	AllowedOrigins   []string
}

// DefaultOptions returns the heartbeat and buffer settings used in production.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       100,
		MaxMessageSize:   128 * 1024,
	}
}

// Handler upgrades /ws requests and pumps envelopes between sockets and rooms.
type Handler struct {
	registry *Registry
	rooms    *room.Manager
	ids      *identity.Assigner
	limiter  *router.RateLimiter
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler wires the endpoint. limiter and m may be nil.
func NewHandler(registry *Registry, rooms *room.Manager, limiter *router.RateLimiter, m *metrics.Metrics, opts Options) *Handler {
	h := &Handler{
		registry: registry,
		rooms:    rooms,
		ids:      identity.NewAssigner(registry.Exists),
		limiter:  limiter,
		metrics:  m,
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	return h
}

// checkOrigin allows everything unless an allow-list is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func parseQuery(r *http.Request) (string, types.Codec, error) {
	q := r.URL.Query()
	name := q.Get("room")
	if name == "" {
		return "", nil, fmt.Errorf("%w: missing room", ErrInvalidParameters)
	}
	if !types.IsValidRoomName(name) {
		return "", nil, fmt.Errorf("%w: invalid room name %q", ErrInvalidParameters, name)
	}
	codec, err := types.CodecByName(q.Get("codec"))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return name, codec, nil
}

// HandleWebSocket serves GET /ws?room=<name>[&codec=json|msgpack].
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName, codec, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.ids.Assign()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionSetup, err)
		logger.Error("client id assignment failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("room", roomName), zap.Error(err))
		return
	}

	conn := NewConnection(ws, id, roomName, codec, h.opts)
	if err := h.registry.Register(conn); err != nil {
		logger.Error("failed to register connection", zap.String("client_id", string(id)), zap.Error(err))
		_ = conn.Close()
		return
	}
	h.metrics.ConnectionOpened()

	rm, err := h.rooms.Join(roomName, conn)
	if err != nil {
		logger.Error("failed to join room", zap.String("room", roomName), zap.String("client_id", string(id)), zap.Error(err))
		h.disconnect(conn)
		return
	}

	logger.Info("client connected",
		zap.String("client_id", string(id)),
		zap.String("room", roomName),
		zap.String("codec", codec.Name()),
		zap.String("remote", r.RemoteAddr))

	go h.readPump(conn, rm)
}

// readPump is the connection's only reader. Envelopes are submitted to the
// room one at a time, which is what keeps a sender's envelopes in order.
func (h *Handler) readPump(conn *Connection, rm *room.Room) {
	defer h.disconnect(conn)

	ws := conn.conn
	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.String("client_id", string(conn.ID())), zap.Error(err))
			}
			return
		}

		env, err := conn.codec.Decode(data)
		if err != nil {
			h.metrics.EnvelopeRejected(types.ErrorCode(err))
			reply := types.NewErrorEnvelope(err, "")
			reply.Room = conn.Room()
			reply.Timestamp = time.Now().UTC()
			_ = conn.Send(reply)
			continue
		}
		// the relay owns the sender field
		env.From = conn.ID()

		if err := rm.Handle(conn.ctx, env); err != nil {
			if errors.Is(err, room.ErrRoomClosed) || errors.Is(err, room.ErrRoomNotRunning) {
				return
			}
			logger.Debug("envelope not routed",
				zap.String("client_id", string(conn.ID())),
				zap.String("type", string(env.Type)),
				zap.Error(err))
		}
	}
}

// disconnect is the implicit leave. Every step tolerates repeats.
func (h *Handler) disconnect(conn *Connection) {
	if err := h.rooms.Leave(conn.Room(), conn.ID()); err != nil {
		logger.Warn("leave on disconnect failed", zap.String("client_id", string(conn.ID())), zap.Error(err))
	}
	if _, ok := h.registry.Get(conn.ID()); ok {
		h.metrics.ConnectionClosed()
	}
	h.registry.Unregister(conn)
	h.limiter.Forget(string(conn.ID()))
	_ = conn.Close()

	logger.Info("client disconnected", zap.String("client_id", string(conn.ID())), zap.String("room", conn.Room()))
}
