package codec

import "encoding/json"

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (c JSON) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, encodeErr(c, v, err)
	}
	return data, nil
}

func (c JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return decodeErr(c, v, err)
	}
	return nil
}
