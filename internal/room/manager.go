package room

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"liveclass/internal/dispatch"
	"liveclass/internal/metrics"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

type hook struct {
	t       types.Type
	handler dispatch.Handler
}

// Manager creates rooms on first connect and reaps them once they are empty
// and idle.
type Manager struct {
	cfg     Config
	router  interfaces.EnvelopeRouter
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string]*Room
	hooks  []hook
	closed bool
}

// NewManager creates an empty manager.
func NewManager(cfg Config, router interfaces.EnvelopeRouter, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		router:  router,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// Subscribe installs h on the dispatcher of every current and future room.
func (m *Manager) Subscribe(t types.Type, h dispatch.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook{t: t, handler: h})
	for _, r := range m.rooms {
		r.Events().On(t, h)
	}
}

// Join attaches conn to the named room, creating the room if needed.
func (m *Manager) Join(name string, conn interfaces.Connection) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	r, ok := m.rooms[name]
	if !ok {
		var err error
		r, err = New(name, m.cfg, m.router, m.metrics)
		if err != nil {
			return nil, err
		}
		r.onVacant = m.reap
		for _, h := range m.hooks {
			r.Events().On(h.t, h.handler)
		}
		if err := r.Start(); err != nil {
			return nil, err
		}
		m.rooms[name] = r
		m.metrics.SetRooms(len(m.rooms))
		logger.Info("room created", zap.String("room", name))
	}

	if err := r.Attach(conn); err != nil {
		return nil, err
	}
	return r, nil
}

// Leave detaches a client from a room. Unknown rooms and clients are ignored.
func (m *Manager) Leave(name string, id types.ClientID) error {
	r, ok := m.Get(name)
	if !ok {
		return nil
	}
	if err := r.Detach(id); err != nil && !errors.Is(err, ErrRoomClosed) {
		return err
	}
	return nil
}

// Get returns a live room by name.
func (m *Manager) Get(name string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[name]
	return r, ok
}

// Count returns how many rooms exist.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Rooms returns a snapshot of every room, sorted by name.
func (m *Manager) Rooms() []types.RoomInfo {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	infos := make([]types.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		info, err := r.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RoomInfo returns the snapshot of one room.
func (m *Manager) RoomInfo(name string) (types.RoomInfo, bool) {
	r, ok := m.Get(name)
	if !ok {
		return types.RoomInfo{}, false
	}
	info, err := r.Info()
	if err != nil {
		return types.RoomInfo{}, false
	}
	return info, true
}

// reap removes r if it is still the registered room for its name and still
// vacant. A client may have joined between the report and now.
func (m *Manager) reap(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[r.Name()] != r {
		return
	}
	vacant, err := r.Vacant()
	if err == nil && !vacant {
		return
	}

	delete(m.rooms, r.Name())
	_ = r.Stop()
	m.metrics.SetRooms(len(m.rooms))
	logger.Info("room reaped", zap.String("room", r.Name()))
}

// Close ends any active sessions and stops every room. Later joins fail
// with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for name, r := range m.rooms {
		if err := r.Retire(context.Background()); err != nil {
			logger.Warn("retiring room", zap.String("room", name), zap.Error(err))
		}
		_ = r.Stop()
		delete(m.rooms, name)
	}
	m.metrics.SetRooms(0)
}
