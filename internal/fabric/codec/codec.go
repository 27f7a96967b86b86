// Package codec provides the pluggable message encodings used by framed
// channels.
//
// A Codec turns a typed value into a frame payload and back. Channels carry
// exactly one codec for their lifetime; both ends must agree on it out of
// band (the mesh uses JSON for its own envelopes and leaves application
// payloads as raw bytes).
package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/norpie/constellation/internal/core/domain"
)

// Codec encodes and decodes frame payloads.
type Codec interface {
	// Name returns the registry name of the codec.
	Name() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v, which must be a pointer.
	Unmarshal(data []byte, v any) error
}

var (
	mu       sync.RWMutex
	registry = map[string]Codec{}
)

// Register makes a codec available by name. It panics on duplicates,
// following the database/sql driver convention.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[c.Name()]; dup {
		panic(fmt.Sprintf("codec: Register called twice for %q", c.Name()))
	}
	registry[c.Name()] = c
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown codec %q", name))
	}
	return c, nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(JSON{})
	Register(Msgpack{})
	Register(Proto{})
	Register(Raw{})
}

func encodeErr(c Codec, v any, err error) error {
	return domain.ErrEncodeFailed.WithDetails(fmt.Sprintf("%s: %T", c.Name(), v)).WithCause(err)
}

func decodeErr(c Codec, v any, err error) error {
	return domain.ErrDecodeFailed.WithDetails(fmt.Sprintf("%s: %T", c.Name(), v)).WithCause(err)
}
