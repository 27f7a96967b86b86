package codec

import (
	"errors"
	"fmt"
)

// Raw passes bytes through untouched. It accepts []byte and string on
// Marshal and *[]byte on Unmarshal.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (c Raw) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case *[]byte:
		if b == nil {
			return nil, encodeErr(c, v, errors.New("nil pointer"))
		}
		return *b, nil
	default:
		return nil, encodeErr(c, v, fmt.Errorf("unsupported type %T", v))
	}
}

func (c Raw) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok || p == nil {
		return decodeErr(c, v, fmt.Errorf("unsupported target %T", v))
	}
	*p = append((*p)[:0], data...)
	return nil
}
