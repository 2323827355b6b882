package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type msgpackEnvelope struct {
	T string             `msgpack:"t"`
	P msgpack.RawMessage `msgpack:"p,omitempty"`
}

// msgpackCodec 二进制编码，状态批次体积约为 JSON 的一半
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty envelope type")
	}
	e := msgpackEnvelope{T: t}
	if payload != nil {
		pb, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		e.P = pb
	}
	return msgpack.Marshal(&e)
}

func (msgpackCodec) Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode: empty frame")
	}
	var e msgpackEnvelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return Envelope{T: e.T, P: e.P}, nil
}

func (msgpackCodec) Unmarshal(data []byte, out any) error { return msgpack.Unmarshal(data, out) }
