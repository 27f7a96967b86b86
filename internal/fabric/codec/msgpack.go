package codec

import (
	mpcodec "github.com/hashicorp/go-msgpack/v2/codec"
)

// msgpackHandle is shared; handles are safe for concurrent use once
// configured.
var msgpackHandle = func() *mpcodec.MsgpackHandle {
	h := &mpcodec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	return h
}()

// Msgpack is a compact binary codec.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (c Msgpack) Marshal(v any) ([]byte, error) {
	var out []byte
	if err := mpcodec.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, encodeErr(c, v, err)
	}
	return out, nil
}

func (c Msgpack) Unmarshal(data []byte, v any) error {
	if err := mpcodec.NewDecoderBytes(data, msgpackHandle).Decode(v); err != nil {
		return decodeErr(c, v, err)
	}
	return nil
}
