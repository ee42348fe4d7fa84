package client

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes a Classroom connection. The zero value is usable.
type Options struct {
	// Codec is "json" (default) or "msgpack".
	Codec  string
	Dialer *websocket.Dialer
	Header http.Header

	// RequestTimeout bounds requests whose context has no deadline.
	RequestTimeout time.Duration
	WriteTimeout   time.Duration

	// MaxChatMessages caps the locally kept chat history.
	MaxChatMessages int
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxChatMessages <= 0 {
		o.MaxChatMessages = 500
	}
	return o
}
