package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names accepted in the codec query parameter.
const (
	CodecJSON    = "json"
	CodecMsgPack = "msgpack"
)

// Codec turns messages into websocket frames and back. Binary codecs are sent
// as binary frames, the rest as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName resolves a codec name. The empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSON, nil
	case CodecMsgPack:
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Reason: "malformed json: " + err.Error()}
	}
	return &m, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgPack }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func (msgpackCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Reason: "malformed msgpack: " + err.Error()}
	}
	return &m, nil
}
