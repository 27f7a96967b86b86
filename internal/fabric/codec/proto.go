package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNotProto = errors.New("value does not implement proto.Message")

// Proto encodes protobuf messages.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (c Proto) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, encodeErr(c, v, errNotProto)
	}
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, encodeErr(c, v, err)
	}
	return data, nil
}

func (c Proto) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return decodeErr(c, v, errNotProto)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return decodeErr(c, v, err)
	}
	return nil
}
