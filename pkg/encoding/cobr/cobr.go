package cobr

import "github.com/fxamacker/cbor/v2"

// timestamps keep nanosecond precision; freshness checks compare them.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

type CborCodec struct{}

// Marshal implements Codec.
func (c *CborCodec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal implements Codec.
func (c *CborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// Name implements Codec.
func (c *CborCodec) Name() string {
	return "cbor"
}
