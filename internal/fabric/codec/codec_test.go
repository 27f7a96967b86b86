package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/norpie/constellation/internal/core/domain"
)

type message struct {
	ID     string            `json:"id" codec:"id"`
	Count  int               `json:"count" codec:"count"`
	Labels map[string]string `json:"labels" codec:"labels"`
	Body   []byte            `json:"body" codec:"body"`
}

func TestStructuredRoundTrip(t *testing.T) {
	in := message{ID: "01HZ", Count: 3, Labels: map[string]string{"zone": "a"}, Body: []byte{0, 1, 2}}

	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out message
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestProtoRoundTrip(t *testing.T) {
	c := Proto{}
	data, err := c.Marshal(wrapperspb.String("catalog.search.v1"))
	require.NoError(t, err)

	out := &wrapperspb.StringValue{}
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, "catalog.search.v1", out.GetValue())

	_, err = c.Marshal(message{})
	assert.True(t, errors.Is(err, domain.ErrEncodeFailed))
	assert.True(t, errors.Is(c.Unmarshal(data, &message{}), domain.ErrDecodeFailed))
}

func TestRaw(t *testing.T) {
	c := Raw{}
	data, err := c.Marshal([]byte("payload"))
	require.NoError(t, err)

	var out []byte
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "payload", string(out))

	s, err := c.Marshal("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(s))

	_, err = c.Marshal(42)
	assert.True(t, errors.Is(err, domain.ErrEncodeFailed))
	assert.True(t, errors.Is(c.Unmarshal(data, new(string)), domain.ErrDecodeFailed))
}

func TestDecodeGarbage(t *testing.T) {
	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			var out message
			err := c.Unmarshal([]byte{0xc1, 0xff, '{'}, &out)
			assert.True(t, errors.Is(err, domain.ErrDecodeFailed), "got %v", err)
		})
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "msgpack", "proto", "raw"}, Names())

	c, err := Lookup("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	_, err = Lookup("bincode")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	assert.Panics(t, func() { Register(JSON{}) })
}
