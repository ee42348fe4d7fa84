package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Connection is one client socket. It implements interfaces.Connection.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer,
// so every frame including pings goes through writeLoop
type Connection struct {
	conn    *websocket.Conn
	id      types.ClientID
	room    string
	codec   types.Codec
	writeCh chan []byte
	opts    Options

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket and starts its writer.
func NewConnection(conn *websocket.Conn, id types.ClientID, room string, codec types.Codec, opts Options) *Connection {
	defaults := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if codec == nil {
		codec = types.JSONCodec
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      id,
		room:    room,
		codec:   codec,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Connection) ID() types.ClientID { return c.id }
func (c *Connection) Room() string       { return c.room }
func (c *Connection) Codec() types.Codec { return c.codec }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Send encodes env and queues it without blocking. A full queue means the
// client is not keeping up and the envelope is dropped for it.
func (c *Connection) Send(env *types.Envelope) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
	}

	data, err := c.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
		return interfaces.ErrSendQueueFull
	}
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(frame, data); err != nil {
				c.fail(err)
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *Connection) fail(err error) {
	logger.Debug("websocket write failed",
		zap.String("client_id", string(c.id)),
		zap.String("room", c.room),
		zap.Error(err))
	_ = c.Close()
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
