package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope 线上信封：T 为消息类型，P 为按同一编解码器编码的原始载荷
type Envelope struct {
	T string
	P []byte
}

// Codec 复制通道的编解码器。JSON 走文本帧，msgpack 走二进制帧
type Codec interface {
	Name() string
	Binary() bool
	Encode(t string, payload any) ([]byte, error)
	Decode(b []byte) (Envelope, error)
	Unmarshal(data []byte, out any) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName 按名称选择编解码器，空字符串返回 JSON
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// DecodePayload 把信封载荷解码为 T；startGame 这类无载荷消息不应调用
func DecodePayload[T any](c Codec, env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := c.Unmarshal(env.P, &out)
	return out, err
}

type jsonEnvelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty envelope type")
	}
	e := jsonEnvelope{T: t}
	if payload != nil {
		pb, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		e.P = pb
	}
	return json.Marshal(e)
}

func (jsonCodec) Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode: empty frame")
	}
	var e jsonEnvelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return Envelope{T: e.T, P: e.P}, nil
}

func (jsonCodec) Unmarshal(data []byte, out any) error { return json.Unmarshal(data, out) }
