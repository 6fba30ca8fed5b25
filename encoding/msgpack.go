// Package encoding provides the serialization used for storage cell payloads.
// All structured cell values go through Marshal/Unmarshal so every table uses
// one wire format; round-trip decoding in the codec depends on this.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}
