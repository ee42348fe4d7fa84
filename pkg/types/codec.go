package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames should be sent as binary messages.
	Binary() bool
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecByName resolves the ?codec= query parameter. An empty name means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec, nil
	case "msgpack":
		return MsgpackCodec, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

type jsonEnvelope struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	From      ClientID        `json:"from,omitempty"`
	To        ClientID        `json:"to,omitempty"`
	Room      string          `json:"room,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// MarshalJSON writes the envelope with its payload inlined under "payload".
func (e Envelope) MarshalJSON() ([]byte, error) {
	wire := jsonEnvelope{
		ID:   e.ID,
		Type: e.Type,
		From: e.From,
		To:   e.To,
		Room: e.Room,
		Ref:  e.Ref,
	}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp
		wire.Timestamp = &ts
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		wire.Payload = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON picks the payload struct from the type tag.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire jsonEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	payload, err := NewPayload(wire.Type)
	if err != nil {
		return fmt.Errorf("%w %q", err, wire.Type)
	}
	if len(wire.Payload) > 0 && !bytes.Equal(wire.Payload, []byte("null")) {
		if err := json.Unmarshal(wire.Payload, payload); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, wire.Type, err)
		}
	}

	*e = Envelope{
		ID:      wire.ID,
		Type:    wire.Type,
		Payload: payload,
		From:    wire.From,
		To:      wire.To,
		Room:    wire.Room,
		Ref:     wire.Ref,
	}
	if wire.Timestamp != nil {
		e.Timestamp = *wire.Timestamp
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// TECHNICAL DISCOVERY: payload structs only carry json tags, so the msgpack
// side reads those tags and keeps field names identical on both codecs
type msgpackEnvelope struct {
	ID        string             `msgpack:"id,omitempty"`
	Type      Type               `msgpack:"type"`
	Payload   msgpack.RawMessage `msgpack:"payload,omitempty"`
	From      ClientID           `msgpack:"from,omitempty"`
	To        ClientID           `msgpack:"to,omitempty"`
	Room      string             `msgpack:"room,omitempty"`
	Ref       string             `msgpack:"ref,omitempty"`
	Timestamp time.Time          `msgpack:"timestamp,omitempty"`
}

func init() {
	msgpack.Register(webrtc.SDPType(0), encodeSDPType, decodeSDPType)
}

// SDP types travel as their names ("offer", "answer") on msgpack too, the
// same as in JSON. An unset type is the empty string.
func encodeSDPType(enc *msgpack.Encoder, v reflect.Value) error {
	t := v.Interface().(webrtc.SDPType)
	if t == webrtc.SDPType(0) {
		return enc.EncodeString("")
	}
	return enc.EncodeString(t.String())
}

func decodeSDPType(dec *msgpack.Decoder, v reflect.Value) error {
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	var t webrtc.SDPType
	switch x := raw.(type) {
	case nil:
	case string:
		if x != "" {
			t = webrtc.NewSDPType(x)
		}
	case int64:
		t = webrtc.SDPType(x)
	case uint64:
		t = webrtc.SDPType(x)
	default:
		return fmt.Errorf("sdp type: unexpected %T", raw)
	}
	v.Set(reflect.ValueOf(t))
	return nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(env *Envelope) ([]byte, error) {
	wire := msgpackEnvelope{
		ID:        env.ID,
		Type:      env.Type,
		From:      env.From,
		To:        env.To,
		Room:      env.Room,
		Ref:       env.Ref,
		Timestamp: env.Timestamp,
	}
	if env.Payload != nil {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(env.Payload); err != nil {
			return nil, err
		}
		wire.Payload = buf.Bytes()
	}
	return msgpack.Marshal(&wire)
}

func (msgpackCodec) Decode(data []byte) (*Envelope, error) {
	var wire msgpackEnvelope
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	payload, err := NewPayload(wire.Type)
	if err != nil {
		return nil, fmt.Errorf("%w %q", err, wire.Type)
	}
	if len(wire.Payload) > 0 {
		dec := msgpack.NewDecoder(bytes.NewReader(wire.Payload))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, wire.Type, err)
		}
	}
	return &Envelope{
		ID:        wire.ID,
		Type:      wire.Type,
		Payload:   payload,
		From:      wire.From,
		To:        wire.To,
		Room:      wire.Room,
		Ref:       wire.Ref,
		Timestamp: wire.Timestamp,
	}, nil
}
