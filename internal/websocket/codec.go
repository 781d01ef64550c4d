package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/scythe504/horde-backend/internal"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Codec turns envelopes into frames and back. MessagePack reuses the json
// struct tags so both encodings share field names.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msgType string, payload any) ([]byte, error)
	DecodeEnvelope(frame []byte) (msgType string, payload []byte, err error)
	DecodePayload(payload []byte, v any) error
}

func CodecFor(name string) (Codec, error) {
	switch name {
	case "", EncodingJSON:
		return jsonCodec{}, nil
	case EncodingMsgpack:
		return msgpackCodec{}, nil
	}
	return nil, internal.NewValidationError("unsupported encoding %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return EncodingJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(internal.Message[any]{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return data, nil
}

func (jsonCodec) DecodeEnvelope(frame []byte) (string, []byte, error) {
	var msg internal.Message[json.RawMessage]
	if err := json.Unmarshal(frame, &msg); err != nil {
		return "", nil, internal.NewProtocolError("malformed envelope: %v", err)
	}
	return msg.Type, msg.Data, nil
}

func (jsonCodec) DecodePayload(payload []byte, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	return json.Unmarshal(payload, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return EncodingMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(msgType string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(internal.Message[any]{Type: msgType, Data: payload}); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) DecodeEnvelope(frame []byte) (string, []byte, error) {
	var msg internal.Message[msgpack.RawMessage]
	if err := newMsgpackDecoder(frame).Decode(&msg); err != nil {
		return "", nil, internal.NewProtocolError("malformed envelope: %v", err)
	}
	return msg.Type, msg.Data, nil
}

func (msgpackCodec) DecodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return newMsgpackDecoder(payload).Decode(v)
}

func newMsgpackDecoder(data []byte) *msgpack.Decoder {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec
}
