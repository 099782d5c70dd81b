package codec

import (
	"encoding/json"
)

// JSONCodec serializes the request and response unions as JSON. It is the
// readable codec: frame bodies can be inspected on the wire with nothing
// but a packet capture, at the cost of reflection and repeated field
// names. BinaryCodec is the compact alternative.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
