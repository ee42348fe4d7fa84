// Package statusfeed mirrors room session status into Redis so dashboards
// and other services can see which classes are live without holding a
// websocket open.
package statusfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"liveclass/internal/dispatch"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

var ErrClosed = errors.New("status publisher closed")

// Client is the subset of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Close() error
}

type Options struct {
	// Prefix namespaces every key and channel.
	Prefix    string
	Timeout   time.Duration
	QueueSize int
}

func DefaultOptions() Options {
	return Options{
		Prefix:    "liveclass",
		Timeout:   2 * time.Second,
		QueueSize: 256,
	}
}

type update struct {
	room   string
	status *types.SessionStatusPayload
}

// Publisher writes status snapshots to Redis. Hook hands updates to a
// background worker so room goroutines never wait on the network.
type Publisher struct {
	client Client
	opts   Options

	mu     sync.Mutex
	closed bool
	queue  chan update
	wg     sync.WaitGroup
}

var _ interfaces.StatusPublisher = (*Publisher)(nil)

// New wraps an existing client and starts the worker.
func New(client Client, opts Options) *Publisher {
	defaults := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = defaults.Prefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}

	p := &Publisher{
		client: client,
		opts:   opts,
		queue:  make(chan update, opts.QueueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Dial connects to Redis and verifies the server answers before returning.
func Dial(ctx context.Context, addr, password string, db int, opts Options) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, opts), nil
}

// Channel is where status snapshots for room are published.
func (p *Publisher) Channel(room string) string {
	return p.opts.Prefix + ":room:" + room
}

// LiveKey is the hash of currently active rooms.
func (p *Publisher) LiveKey() string {
	return p.opts.Prefix + ":live"
}

// PublishStatus writes one snapshot synchronously. Active rooms are kept in
// the live hash; a room back in IDLE is removed from it.
func (p *Publisher) PublishStatus(ctx context.Context, room string, status *types.SessionStatusPayload) error {
	env := types.NewEnvelope(status)
	env.Room = room
	env.Timestamp = time.Now().UTC()
	data, err := types.JSONCodec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	if err := p.client.Publish(ctx, p.Channel(room), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.Channel(room), err)
	}
	if status.State == types.StateIdle {
		err = p.client.HDel(ctx, p.LiveKey(), room).Err()
	} else {
		err = p.client.HSet(ctx, p.LiveKey(), room, data).Err()
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", p.LiveKey(), err)
	}
	return nil
}

// Hook returns a dispatch handler for session_status events. It never
// blocks; when the queue is full the update is dropped and logged.
func (p *Publisher) Hook() dispatch.Handler {
	return func(ctx context.Context, ev dispatch.Event) error {
		status, ok := ev.Payload.(*types.SessionStatusPayload)
		if !ok {
			return nil
		}
		snapshot := *status
		snapshot.Viewers = append([]types.ClientID(nil), status.Viewers...)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return ErrClosed
		}
		select {
		case p.queue <- update{room: ev.Room, status: &snapshot}:
			return nil
		default:
			return fmt.Errorf("status queue full, dropped update for room %s", ev.Room)
		}
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for u := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		if err := p.PublishStatus(ctx, u.room, u.status); err != nil {
			logger.Warn("status publish failed", zap.String("room", u.room), zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued updates and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.client.Close()
}
